package buildplan

import "regexp"

const entryPoint = "./src/index.js"

// compiled once, regexps are safe for concurrent use
var (
	jsPattern          = regexp.MustCompile(`\.js$`)
	elmPattern         = regexp.MustCompile(`\.elm$`)
	cssPattern         = regexp.MustCompile(`\.css$`)
	stylesheetsPattern = regexp.MustCompile(`Stylesheets\.elm$`)
	elmStuffPattern    = regexp.MustCompile(`elm-stuff`)
	nodeModulesPattern = regexp.MustCompile(`node_modules`)
)

const compressiblePattern = `\.(js|css)$`

type layout struct {
	output      Output
	stylesheet  string
	contentBase string
	elmCSS      bool
}

var layouts = map[Variant]layout{
	VariantDefault: {
		output:      Output{Directory: "dist", PublicPath: "", Filename: "bundle.js"},
		stylesheet:  "bundle.css",
		contentBase: "./src",
	},
	VariantMinified: {
		output:      Output{Directory: "dist", PublicPath: "/", Filename: "bundle.min.js"},
		stylesheet:  "bundle.min.css",
		contentBase: "./src",
	},
	VariantStylesheets: {
		output:     Output{Directory: "build", PublicPath: "/assets/", Filename: "bundle.js"},
		stylesheet: "bundle.css",
		elmCSS:     true,
	},
}

// Resolve builds the plan for a mode and variant. It reads no ambient state and
// returns a fresh value on every call. Unknown variants resolve as VariantDefault.
func Resolve(mode Mode, variant Variant) Plan {
	l, ok := layouts[variant]
	if !ok {
		variant = VariantDefault
		l = layouts[VariantDefault]
	}

	rules := []Rule{
		{
			Test:    jsPattern,
			Exclude: []*regexp.Regexp{elmStuffPattern, nodeModulesPattern, elmPattern},
			Use: []Step{{
				Loader:  LoaderBabel,
				Options: map[string]any{"presets": []string{"env"}},
			}},
		},
		{
			Test:    elmPattern,
			Exclude: elmExcludes(l.elmCSS),
			Use:     elmChain(mode),
		},
		{
			Test: cssPattern,
			Use:  styleChain(mode, LoaderCSS),
		},
	}

	if l.elmCSS {
		rules = append(rules, Rule{
			Test: stylesheetsPattern,
			Use:  styleChain(mode, LoaderCSS, LoaderElmCSS),
		})
	}

	return Plan{
		Mode:    mode,
		Variant: variant,
		Entry:   []string{entryPoint},
		Output:  l.output,
		Resolve: ResolveOptions{
			Extensions: []string{".js", ".elm"},
			Modules:    []string{"node_modules"},
		},
		Rules:   rules,
		Plugins: plugins(mode, l.stylesheet),
		DevServer: DevServer{
			Inline:      true,
			ContentBase: l.contentBase,
		},
	}
}

func elmExcludes(elmCSS bool) []*regexp.Regexp {
	ex := []*regexp.Regexp{elmStuffPattern, nodeModulesPattern}
	if elmCSS {
		ex = append(ex, stylesheetsPattern)
	}
	return ex
}

func elmChain(mode Mode) []Step {
	switch mode {
	case Development:
		return []Step{
			{Loader: LoaderElmHot},
			{Loader: LoaderElm, Options: map[string]any{"verbose": true, "warn": true, "debug": true}},
		}
	default:
		return []Step{{Loader: LoaderElm}}
	}
}

// styleChain returns the chain for stylesheet sources. inner lists the loaders
// that produce CSS, outermost first.
func styleChain(mode Mode, inner ...string) []Step {
	switch mode {
	case Development:
		steps := []Step{{Loader: LoaderStyle}}
		for _, l := range inner {
			steps = append(steps, Step{Loader: l})
		}
		return steps
	default:
		return []Step{{
			Loader: LoaderExtractText,
			Options: map[string]any{
				"fallback": LoaderStyle,
				"use":      append([]string(nil), inner...),
			},
		}}
	}
}

func plugins(mode Mode, stylesheet string) []Plugin {
	list := []Plugin{{
		Name:    PluginExtractText,
		Options: map[string]any{"filename": stylesheet},
	}}

	if mode == Production {
		list = append(list,
			Plugin{Name: PluginMinify},
			Plugin{
				Name:    PluginCompression,
				Options: map[string]any{"algorithm": "gzip", "test": compressiblePattern},
			},
		)
	}

	return list
}
