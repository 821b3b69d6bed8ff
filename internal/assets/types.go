package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"maps"
	"sync"
)

type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
	CSSBundle  string       `json:"cssBundle"`
	Bytes      int64        `json:"bytes"`
}

type ImportInfo struct {
	Path string `json:"path"`
}

// Result summarises a completed build
type Result struct {
	Manifest *Manifest
	// Absolute paths of every file written, including compressed siblings
	Files []string
}

// Pipeline executes a build plan with esbuild and tracks the latest outputs
type Pipeline struct {
	config   Config
	metadata *BuildMetadata
	manifest *Manifest
	tmpl     *template.Template
	mu       sync.RWMutex
}

// New creates a new asset pipeline with the given configuration
func New(config Config) *Pipeline {
	return &Pipeline{
		config: config,
	}
}

// NewWithTemplate creates a new asset pipeline with the built in index page template
func NewWithTemplate(config Config) (*Pipeline, error) {
	return NewWithTemplateAndFuncs(config, nil)
}

// NewWithTemplateAndFuncs creates a new asset pipeline with the built in index page template and custom functions
func NewWithTemplateAndFuncs(config Config, customFuncs template.FuncMap) (*Pipeline, error) {
	p := &Pipeline{
		config: config,
	}

	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}

	// Merge custom functions
	maps.Copy(funcs, customFuncs)

	tmpl, err := template.New(IndexTemplate).Funcs(funcs).Parse(indexTemplate)
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl
	return p, nil
}

// Config returns the configuration the pipeline was created with
func (p *Pipeline) Config() Config {
	return p.config
}

// IndexTemplate names the built in page listing the bundle's scripts and stylesheets
const IndexTemplate = "index"

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
{{- range .Stylesheets}}
  <link rel="stylesheet" href="{{.}}">
{{- end}}
</head>
<body>
{{- if .Context}}
  <script>window.__ELMPACK__ = {{marshal .Context | safe}}</script>
{{- end}}
{{- range .Scripts}}
  <script src="{{.}}"></script>
{{- end}}
</body>
</html>
`

func marshal(value any) string {
	buf := new(bytes.Buffer)

	if err := json.NewEncoder(buf).Encode(value); err != nil {
		panic(errors.New("context can only be json serializable"))
	}

	return buf.String()
}
