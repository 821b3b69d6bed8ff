package buildplan

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Format names an encoding of a Plan.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatWebpack Format = "webpack"
)

// Encode writes the plan to w in the given format.
func Encode(w io.Writer, plan Plan, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plan); err != nil {
			return err
		}
		return enc.Close()
	case FormatWebpack:
		return WriteWebpackConfig(w, plan)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

var pluginIdents = map[string]string{
	PluginExtractText: "ExtractTextPlugin",
	PluginMinify:      "UglifyJsPlugin",
	PluginCompression: "CompressionPlugin",
}

var webpackTemplate = template.Must(template.New("webpack.config.js").Funcs(template.FuncMap{
	"js":     jsValue,
	"regex":  jsRegex,
	"use":    jsUse,
	"plugin": jsPlugin,
}).Parse(`const path = require('path');
{{- range .Requires}}
const {{.Ident}} = require('{{.Module}}');
{{- end}}

module.exports = {
  entry: {
    app: {{js .Plan.Entry}}
  },
  output: {
    path: path.resolve(__dirname, {{js .Plan.Output.Directory}}),
    publicPath: {{js .Plan.Output.PublicPath}},
    filename: {{js .Plan.Output.Filename}}
  },
  resolve: {
    extensions: {{js .Plan.Resolve.Extensions}},
    modules: {{js .Plan.Resolve.Modules}}
  },
  module: {
    rules: [
{{- range $i, $r := .Plan.Rules}}{{if $i}},{{end}}
      {
        test: {{regex $r.Test}},
{{- if $r.Exclude}}
        exclude: [{{range $j, $e := $r.Exclude}}{{if $j}}, {{end}}{{regex $e}}{{end}}],
{{- end}}
        use: {{use $r.Use}}
      }
{{- end}}
    ]
  },
  plugins: [
{{- range $i, $p := .Plan.Plugins}}{{if $i}},{{end}}
    {{plugin $p}}
{{- end}}
  ],
  devServer: {
    inline: {{js .Plan.DevServer.Inline}}{{if .Plan.DevServer.ContentBase}},
    contentBase: path.join(__dirname, {{js .Plan.DevServer.ContentBase}}){{end}}
  }
};
`))

type requireStmt struct {
	Ident  string
	Module string
}

// WriteWebpackConfig renders the plan as a webpack.config.js module.
func WriteWebpackConfig(w io.Writer, plan Plan) error {
	var requires []requireStmt
	for _, p := range plan.Plugins {
		if ident, ok := pluginIdents[p.Name]; ok {
			requires = append(requires, requireStmt{Ident: ident, Module: p.Name})
		}
	}

	return webpackTemplate.Execute(w, map[string]any{
		"Plan":     plan,
		"Requires": requires,
	})
}

func jsValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func jsRegex(re *regexp.Regexp) string {
	if re == nil {
		return "null"
	}
	return "/" + strings.ReplaceAll(re.String(), "/", `\/`) + "/"
}

// jsObject renders options as an object literal with sorted keys. A string
// under "test" is a pattern and is rendered as a regex literal.
func jsObject(opts map[string]any) (string, error) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var (
			val string
			err error
		)
		if s, ok := opts[k].(string); ok && k == "test" {
			re, err := regexp.Compile(s)
			if err != nil {
				return "", fmt.Errorf("invalid %s pattern: %w", k, err)
			}
			val = jsRegex(re)
		} else {
			val, err = jsValue(opts[k])
			if err != nil {
				return "", err
			}
		}
		parts = append(parts, k+": "+val)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

func jsUse(steps []Step) (string, error) {
	if len(steps) == 1 && steps[0].Loader == LoaderExtractText {
		opts, err := jsObject(steps[0].Options)
		if err != nil {
			return "", err
		}
		return "ExtractTextPlugin.extract(" + opts + ")", nil
	}

	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		if len(s.Options) == 0 {
			parts = append(parts, fmt.Sprintf("{loader: %q}", s.Loader))
			continue
		}
		opts, err := jsObject(s.Options)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("{loader: %q, options: %s}", s.Loader, opts))
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

func jsPlugin(p Plugin) (string, error) {
	ident, ok := pluginIdents[p.Name]
	if !ok {
		return "", fmt.Errorf("no webpack constructor for plugin %q", p.Name)
	}
	if len(p.Options) == 0 {
		return "new " + ident + "()", nil
	}
	opts, err := jsObject(p.Options)
	if err != nil {
		return "", err
	}
	return "new " + ident + "(" + opts + ")", nil
}
