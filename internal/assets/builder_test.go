package assets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/elmpack/internal/buildplan"
)

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "index.js"), `import "./style.css";
import Elm from "./Main.elm";

Elm.Main.init();
console.log(process.env.NODE_ENV);
`)
	writeFile(t, filepath.Join(dir, "src", "style.css"), "body {\n  margin: 0;\n}\n")
	writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (main)\n")
	return dir
}

func newTestPipeline(t *testing.T, dir string, mode buildplan.Mode, variant buildplan.Variant) *Pipeline {
	t.Helper()
	cfg := DefaultConfig(buildplan.Resolve(mode, variant))
	cfg.ProjectDir = dir
	cfg.Toolchain = &fakeToolchain{}
	return New(cfg)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestBuild_production(t *testing.T) {
	dir := newProject(t)
	p := newTestPipeline(t, dir, buildplan.Production, buildplan.VariantDefault)

	res, err := p.Build(context.Background())
	require.NoError(t, err)

	out := filepath.Join(dir, "dist")
	js := readFile(t, filepath.Join(out, "bundle.js"))
	require.Contains(t, js, `"production"`)
	require.Contains(t, js, "Main.elm")
	require.NotContains(t, js, "createElement")

	css := readFile(t, filepath.Join(out, "bundle.css"))
	require.Contains(t, css, "margin:0")

	require.FileExists(t, filepath.Join(out, "meta.json"))
	require.FileExists(t, filepath.Join(out, "manifest.json"))
	require.NoFileExists(t, filepath.Join(out, "bundle.js.map"))

	// compression plugin writes gzip siblings
	require.Contains(t, res.Files, filepath.Join(out, "bundle.js.gz"))
	require.Contains(t, res.Files, filepath.Join(out, "bundle.css.gz"))

	f, err := os.Open(filepath.Join(out, "bundle.js.gz"))
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	unzipped, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, js, string(unzipped))

	require.Equal(t, "production", res.Manifest.Mode)
	require.Equal(t, "default", res.Manifest.Variant)
	require.NotEmpty(t, res.Manifest.BuildID)

	paths := map[string]ManifestEntry{}
	for _, e := range res.Manifest.Files {
		paths[e.Path] = e
	}
	require.Contains(t, paths, "bundle.js")
	require.Contains(t, paths, "bundle.css")
	require.Equal(t, checksum([]byte(js)), paths["bundle.js"].Checksum)
	require.EqualValues(t, len(js), paths["bundle.js"].Size)

	var onDisk Manifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(out, "manifest.json"))), &onDisk))
	require.Equal(t, res.Manifest.BuildID, onDisk.BuildID)
}

func TestBuild_developmentInjectsStyles(t *testing.T) {
	dir := newProject(t)
	p := newTestPipeline(t, dir, buildplan.Development, buildplan.VariantMinified)

	res, err := p.Build(context.Background())
	require.NoError(t, err)

	out := filepath.Join(dir, "dist")
	js := readFile(t, filepath.Join(out, "bundle.min.js"))
	require.Contains(t, js, `"development"`)
	require.Contains(t, js, "createElement")
	require.NotContains(t, js, LiveReloadPath)

	require.NoFileExists(t, filepath.Join(out, "bundle.min.css"))
	require.FileExists(t, filepath.Join(out, "bundle.min.js.map"))
	require.NoFileExists(t, filepath.Join(out, "bundle.min.js.gz"))

	for _, f := range res.Files {
		require.False(t, strings.HasSuffix(f, ".gz"), f)
	}

	tc := p.config.Toolchain.(*fakeToolchain)
	require.Equal(t, []MakeOptions{{Debug: true}}, tc.makes)
}

func TestBuild_liveReloadBanner(t *testing.T) {
	dir := newProject(t)
	p := newTestPipeline(t, dir, buildplan.Development, buildplan.VariantDefault)
	p.config.LiveReload = true

	_, err := p.Build(context.Background())
	require.NoError(t, err)

	js := readFile(t, filepath.Join(dir, "dist", "bundle.js"))
	require.Contains(t, js, LiveReloadPath)
}

func TestBuild_missingImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "index.js"), `import "./nope.js";`)

	p := newTestPipeline(t, dir, buildplan.Production, buildplan.VariantDefault)

	_, err := p.Build(context.Background())
	require.ErrorIs(t, err, ErrBuildFailed)
	require.ErrorContains(t, err, "nope.js")

	_, err = p.Manifest()
	require.ErrorIs(t, err, ErrNotBuilt)
}

func TestBuild_elmCompileError(t *testing.T) {
	dir := newProject(t)
	p := newTestPipeline(t, dir, buildplan.Production, buildplan.VariantDefault)
	p.config.Toolchain = &fakeToolchain{makeErr: errors.New("TYPE MISMATCH")}

	_, err := p.Build(context.Background())
	require.ErrorIs(t, err, ErrBuildFailed)
	require.ErrorContains(t, err, "TYPE MISMATCH")
}

func TestBuild_noEntryPoints(t *testing.T) {
	plan := buildplan.Resolve(buildplan.Production, buildplan.VariantDefault)
	plan.Entry = nil

	cfg := DefaultConfig(plan)
	cfg.ProjectDir = t.TempDir()

	_, err := New(cfg).Build(context.Background())
	require.ErrorIs(t, err, ErrNoEntryPoints)
}

func TestLoadScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "index.js"), `console.log("hello");`)

	p := newTestPipeline(t, dir, buildplan.Production, buildplan.VariantStylesheets)

	_, _, err := p.LoadScripts()
	require.ErrorIs(t, err, ErrNotBuilt)

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	scripts, stylesheets, err := p.LoadScripts()
	require.NoError(t, err)
	require.Equal(t, []string{"/assets/bundle.js"}, scripts)
	require.Empty(t, stylesheets)

	m, err := p.Manifest()
	require.NoError(t, err)
	require.Equal(t, "/assets/", m.PublicPath)
}

func TestBuild_stylesheetsVariant(t *testing.T) {
	tests := []struct {
		name        string
		mode        buildplan.Mode
		extracted   bool
		stylesheets []string
	}{
		{name: "production extracts", mode: buildplan.Production, extracted: true, stylesheets: []string{"/assets/bundle.css"}},
		{name: "development injects", mode: buildplan.Development},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "src", "index.js"), `import "./Stylesheets.elm";
import Elm from "./Main.elm";

Elm.Main.init();
`)
			writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (main)\n")
			writeFile(t, filepath.Join(dir, "src", "Stylesheets.elm"), "port module Stylesheets exposing (main)\n")

			p := newTestPipeline(t, dir, tt.mode, buildplan.VariantStylesheets)

			_, err := p.Build(context.Background())
			require.NoError(t, err)

			out := filepath.Join(dir, "build")
			js := readFile(t, filepath.Join(out, "bundle.js"))

			if tt.extracted {
				require.Contains(t, readFile(t, filepath.Join(out, "bundle.css")), "elm-css")
				require.NotContains(t, js, "createElement")
			} else {
				require.NoFileExists(t, filepath.Join(out, "bundle.css"))
				require.Contains(t, js, "elm-css")
				require.Contains(t, js, "createElement")
			}

			_, stylesheets, err := p.LoadScripts()
			require.NoError(t, err)
			if tt.stylesheets == nil {
				require.Empty(t, stylesheets)
			} else {
				require.Equal(t, tt.stylesheets, stylesheets)
			}

			// Stylesheets.elm is excluded from the elm rule and only reaches elm-css
			tc := p.config.Toolchain.(*fakeToolchain)
			require.Len(t, tc.makes, 1)
			require.Len(t, tc.stylesheets, 1)
			require.Equal(t, "Stylesheets.elm", filepath.Base(tc.stylesheets[0]))
		})
	}
}

func TestWatch_initialBuild(t *testing.T) {
	dir := newProject(t)
	p := newTestPipeline(t, dir, buildplan.Development, buildplan.VariantDefault)

	done := make(chan error, 1)
	stop, err := p.Watch(context.Background(), func(res *Result, err error) {
		select {
		case done <- err:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for initial build")
	}

	require.FileExists(t, filepath.Join(dir, "dist", "bundle.js"))
}

func TestOutputPath(t *testing.T) {
	plan := buildplan.Resolve(buildplan.Production, buildplan.VariantDefault)
	plan.Plugins[0].Options["filename"] = "app.css"
	p := New(Config{Plan: plan})

	out := "/project/dist"
	require.Equal(t, "/project/dist/app.css", p.outputPath(out, "/project/dist/bundle.css"))
	require.Equal(t, "/project/dist/app.css.map", p.outputPath(out, "/project/dist/bundle.css.map"))
	require.Equal(t, "/project/dist/bundle.js", p.outputPath(out, "/project/dist/bundle.js"))
	require.Equal(t, "/project/dist/chunks/a.css", p.outputPath(out, "/project/dist/chunks/a.css"))
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		variant  buildplan.Variant
		output   string
		expected string
	}{
		{variant: buildplan.VariantDefault, output: "dist/bundle.js", expected: "bundle.js"},
		{variant: buildplan.VariantMinified, output: "dist/bundle.min.js", expected: "/bundle.min.js"},
		{variant: buildplan.VariantStylesheets, output: "build/bundle.js", expected: "/assets/bundle.js"},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			p := New(Config{Plan: buildplan.Resolve(buildplan.Production, tt.variant)})
			require.Equal(t, tt.expected, p.publicURL(tt.output))
		})
	}
}
