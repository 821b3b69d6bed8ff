package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/elmpack/internal/buildplan"
)

type fakeToolchain struct {
	mu          sync.Mutex
	makes       []MakeOptions
	stylesheets []string
	makeErr     error
}

func (f *fakeToolchain) Make(_ context.Context, path string, opts MakeOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makes = append(f.makes, opts)
	if f.makeErr != nil {
		return nil, f.makeErr
	}
	return []byte(`this.Elm = {Main: {init: function() { return "` + filepath.Base(path) + `"; }}};`), nil
}

func (f *fakeToolchain) Stylesheets(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stylesheets = append(f.stylesheets, path)
	return []byte(".elm-css { color: blue; }"), nil
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
}

func ruleFor(t *testing.T, plan buildplan.Plan, path string) buildplan.Rule {
	t.Helper()
	rule, ok := plan.RuleFor(path)
	require.True(t, ok, "no rule for %s", path)
	return rule
}

func TestRunner_elmProduction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Main.elm")
	writeFile(t, path, "module Main exposing (main)")

	tc := &fakeToolchain{}
	plan := buildplan.Resolve(buildplan.Production, buildplan.VariantDefault)

	s, err := newRunner(plan.Mode, tc).run(context.Background(), path, ruleFor(t, plan, path).Use)
	require.NoError(t, err)
	require.Equal(t, api.LoaderJS, s.loader)
	require.Contains(t, string(s.contents), "module.exports = scope.Elm;")
	require.Equal(t, []MakeOptions{{Optimize: true}}, tc.makes)
}

func TestRunner_elmDevelopmentRunsCompileBeforeHot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Main.elm")
	writeFile(t, path, "module Main exposing (main)")

	tc := &fakeToolchain{}
	plan := buildplan.Resolve(buildplan.Development, buildplan.VariantDefault)

	s, err := newRunner(plan.Mode, tc).run(context.Background(), path, ruleFor(t, plan, path).Use)
	require.NoError(t, err)
	require.Equal(t, api.LoaderJS, s.loader)
	require.Equal(t, []MakeOptions{{Debug: true}}, tc.makes)
}

func TestRunner_elmCompileError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Main.elm")
	writeFile(t, path, "module Main exposing (main)")

	tc := &fakeToolchain{makeErr: errors.New("TYPE MISMATCH")}
	plan := buildplan.Resolve(buildplan.Production, buildplan.VariantDefault)

	_, err := newRunner(plan.Mode, tc).run(context.Background(), path, ruleFor(t, plan, path).Use)
	require.ErrorContains(t, err, "elm-webpack-loader: TYPE MISMATCH")
}

func TestRunner_cssExtractedInProduction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.css")
	writeFile(t, path, "body { margin: 0; }")

	plan := buildplan.Resolve(buildplan.Production, buildplan.VariantDefault)

	s, err := newRunner(plan.Mode, &fakeToolchain{}).run(context.Background(), path, ruleFor(t, plan, path).Use)
	require.NoError(t, err)
	require.Equal(t, api.LoaderCSS, s.loader)
	require.Equal(t, "body { margin: 0; }", string(s.contents))
}

func TestRunner_cssInjectedInDevelopment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.css")
	writeFile(t, path, `body { content: "</style>"; }`)

	plan := buildplan.Resolve(buildplan.Development, buildplan.VariantDefault)

	s, err := newRunner(plan.Mode, &fakeToolchain{}).run(context.Background(), path, ruleFor(t, plan, path).Use)
	require.NoError(t, err)
	require.Equal(t, api.LoaderJS, s.loader)
	require.Contains(t, string(s.contents), `document.createElement("style")`)
	require.Contains(t, string(s.contents), `"main.css"`)
	// json encoding escapes the closing tag
	require.Contains(t, string(s.contents), `body { content: \"\u003c/style\u003e\"; }`)
}

func TestRunner_elmCSSStylesheets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Stylesheets.elm")
	writeFile(t, path, "port module Stylesheets exposing (..)")

	tc := &fakeToolchain{}

	prod := buildplan.Resolve(buildplan.Production, buildplan.VariantStylesheets)
	s, err := newRunner(prod.Mode, tc).run(context.Background(), path, ruleFor(t, prod, path).Use)
	require.NoError(t, err)
	require.Equal(t, api.LoaderCSS, s.loader)
	require.Equal(t, ".elm-css { color: blue; }", string(s.contents))

	dev := buildplan.Resolve(buildplan.Development, buildplan.VariantStylesheets)
	s, err = newRunner(dev.Mode, tc).run(context.Background(), path, ruleFor(t, dev, path).Use)
	require.NoError(t, err)
	require.Equal(t, api.LoaderJS, s.loader)

	require.Equal(t, []string{path, path}, tc.stylesheets)
	require.Empty(t, tc.makes)
}

func TestRunner_unsupportedStep(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ts")
	writeFile(t, path, "export {}")

	_, err := newRunner(buildplan.Production, &fakeToolchain{}).run(context.Background(), path,
		[]buildplan.Step{{Loader: "ts-loader"}})
	require.ErrorIs(t, err, ErrUnsupportedStep)
}

func TestRunner_styleRejectsJavaScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.js")
	writeFile(t, path, "export {}")

	_, err := newRunner(buildplan.Production, &fakeToolchain{}).run(context.Background(), path,
		[]buildplan.Step{{Loader: buildplan.LoaderStyle}, {Loader: buildplan.LoaderBabel}})
	require.ErrorContains(t, err, "style-loader expects CSS input")
}

func TestRunner_extractRequiresLoaderList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.css")
	writeFile(t, path, "a { color: red; }")

	_, err := newRunner(buildplan.Production, &fakeToolchain{}).run(context.Background(), path,
		[]buildplan.Step{{Loader: buildplan.LoaderExtractText, Options: map[string]any{"use": []any{buildplan.LoaderCSS}}}})
	require.ErrorContains(t, err, "extracted chain did not produce CSS")
}
