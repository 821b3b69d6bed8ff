// Package buildplan resolves the bundler configuration for the Elm front-end.
// A Plan is plain data: the asset pipeline executes it with esbuild and the
// encoders render it for webpack.
package buildplan

import (
	"regexp"
)

// Loader identifiers used in rule chains.
const (
	LoaderBabel       = "babel-loader"
	LoaderElm         = "elm-webpack-loader"
	LoaderElmHot      = "elm-hot-loader"
	LoaderElmCSS      = "elm-css-webpack-loader"
	LoaderCSS         = "css-loader"
	LoaderStyle       = "style-loader"
	LoaderExtractText = "extract-text-webpack-plugin"
)

// Plugin identifiers.
const (
	PluginExtractText = "extract-text-webpack-plugin"
	PluginMinify      = "uglifyjs-webpack-plugin"
	PluginCompression = "compression-webpack-plugin"
)

type Plan struct {
	Mode      Mode           `json:"mode" yaml:"mode"`
	Variant   Variant        `json:"variant" yaml:"variant"`
	Entry     []string       `json:"entry" yaml:"entry"`
	Output    Output         `json:"output" yaml:"output"`
	Resolve   ResolveOptions `json:"resolve" yaml:"resolve"`
	Rules     []Rule         `json:"rules" yaml:"rules"`
	Plugins   []Plugin       `json:"plugins" yaml:"plugins"`
	DevServer DevServer      `json:"devServer" yaml:"devServer"`
}

type Output struct {
	// Directory is relative to the project root
	Directory  string `json:"path" yaml:"path"`
	PublicPath string `json:"publicPath" yaml:"publicPath"`
	Filename   string `json:"filename" yaml:"filename"`
}

type ResolveOptions struct {
	Extensions []string `json:"extensions" yaml:"extensions"`
	Modules    []string `json:"modules" yaml:"modules"`
}

// Rule maps files matching Test, and none of Exclude, to a loader chain.
// Use is listed outermost first and executed from the last step backwards.
type Rule struct {
	Test    *regexp.Regexp   `json:"test" yaml:"test"`
	Exclude []*regexp.Regexp `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Use     []Step           `json:"use" yaml:"use"`
}

// Matches reports whether the rule applies to path.
func (r Rule) Matches(path string) bool {
	if r.Test == nil || !r.Test.MatchString(path) {
		return false
	}
	for _, ex := range r.Exclude {
		if ex.MatchString(path) {
			return false
		}
	}
	return true
}

// Loaders returns the loader identifiers of the chain in listed order.
func (r Rule) Loaders() []string {
	loaders := make([]string, 0, len(r.Use))
	for _, s := range r.Use {
		loaders = append(loaders, s.Loader)
	}
	return loaders
}

type Step struct {
	Loader  string         `json:"loader" yaml:"loader"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

type Plugin struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

type DevServer struct {
	Inline bool `json:"inline" yaml:"inline"`
	// ContentBase is empty when the variant serves no static directory
	ContentBase string `json:"contentBase,omitempty" yaml:"contentBase,omitempty"`
}

// HasPlugin reports whether a plugin with the given name is part of the plan.
func (p Plan) HasPlugin(name string) bool {
	_, ok := p.Plugin(name)
	return ok
}

func (p Plan) Plugin(name string) (Plugin, bool) {
	for _, pl := range p.Plugins {
		if pl.Name == name {
			return pl, true
		}
	}
	return Plugin{}, false
}

// RuleFor returns the first rule that applies to path.
func (p Plan) RuleFor(path string) (Rule, bool) {
	for _, r := range p.Rules {
		if r.Matches(path) {
			return r, true
		}
	}
	return Rule{}, false
}

// Stylesheet returns the filename the extraction plugin writes, or "" if it is absent.
func (p Plan) Stylesheet() string {
	pl, ok := p.Plugin(PluginExtractText)
	if !ok {
		return ""
	}
	name, _ := pl.Options["filename"].(string)
	return name
}
