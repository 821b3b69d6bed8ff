package assets

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/elmpack/internal/buildplan"
	"github.com/wolfeidau/elmpack/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wolfeidau/elmpack/internal/assets"

// LiveReloadPath is the event stream the injected client listens on
const LiveReloadPath = "/__elmpack/reload"

const liveReloadClient = `(function() {
  if (typeof EventSource === "undefined") return;
  new EventSource("` + LiveReloadPath + `").addEventListener("change", function() { location.reload(); });
})();`

var (
	// ErrNoEntryPoints indicates the plan lists no entry points
	ErrNoEntryPoints = errors.New("no entry points found")
	// ErrBuildFailed indicates esbuild reported errors
	ErrBuildFailed = errors.New("esbuild failed with errors")
	// ErrNotBuilt indicates outputs were requested before a successful build
	ErrNotBuilt = errors.New("assets not built yet, call Build() first")
)

// Build runs esbuild with the configured plan, writes the outputs and loads metadata
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	plan := p.config.Plan

	ctx, span := otel.Tracer(tracerName).Start(ctx, "assets.Build", trace.WithAttributes(
		attribute.String("mode", plan.Mode.String()),
		attribute.String("variant", string(plan.Variant)),
	))
	defer span.End()

	opts, err := p.buildOptions(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	log.Info().Strs("entrypoints", opts.EntryPoints).Str("mode", plan.Mode.String()).Msg("Building assets")

	started := time.Now()
	result := api.Build(opts)

	res, err := p.emit(ctx, result, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// Watch builds once and rebuilds whenever an input changes. onRebuild is called
// after every build. The returned function stops watching.
func (p *Pipeline) Watch(ctx context.Context, onRebuild func(*Result, error)) (func(), error) {
	opts, err := p.buildOptions(ctx)
	if err != nil {
		return nil, err
	}

	var started time.Time
	opts.Plugins = append(opts.Plugins, api.Plugin{
		Name: "elmpack-emit",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				started = time.Now()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				res, err := p.emit(ctx, *result, started)
				if onRebuild != nil {
					onRebuild(res, err)
				}
				return api.OnEndResult{}, nil
			})
		},
	})

	buildCtx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return nil, fmt.Errorf("failed to create esbuild context: %s", messages(ctxErr.Errors))
	}

	if err := buildCtx.Watch(api.WatchOptions{}); err != nil {
		buildCtx.Dispose()
		return nil, fmt.Errorf("failed to start watch: %w", err)
	}

	log.Info().Strs("entrypoints", opts.EntryPoints).Msg("Watching assets")
	return buildCtx.Dispose, nil
}

func (p *Pipeline) projectDir() (string, error) {
	dir := p.config.ProjectDir
	if dir == "" {
		dir = "."
	}
	return filepath.Abs(dir)
}

// OutputDir returns the absolute directory builds are written to
func (p *Pipeline) OutputDir() (string, error) {
	root, err := p.projectDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, p.config.Plan.Output.Directory), nil
}

func (p *Pipeline) buildOptions(ctx context.Context) (api.BuildOptions, error) {
	plan := p.config.Plan

	if len(plan.Entry) == 0 {
		return api.BuildOptions{}, ErrNoEntryPoints
	}

	root, err := p.projectDir()
	if err != nil {
		return api.BuildOptions{}, fmt.Errorf("failed to resolve project dir: %w", err)
	}

	nodePaths := make([]string, 0, len(plan.Resolve.Modules))
	for _, m := range plan.Resolve.Modules {
		nodePaths = append(nodePaths, filepath.Join(root, m))
	}

	minify := plan.HasPlugin(buildplan.PluginMinify)
	sourceMap := plan.Mode == buildplan.Development || p.config.SourceMap

	toolchain := p.config.Toolchain
	if toolchain == nil {
		toolchain = NewElmToolchain("", "")
	}

	opts := api.BuildOptions{
		EntryPoints:       plan.Entry,
		AbsWorkingDir:     root,
		Bundle:            true,
		Write:             false,
		Outfile:           filepath.Join(root, plan.Output.Directory, plan.Output.Filename),
		PublicPath:        plan.Output.PublicPath,
		ResolveExtensions: plan.Resolve.Extensions,
		NodePaths:         nodePaths,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		MinifyWhitespace:  minify,
		MinifyIdentifiers: minify,
		MinifySyntax:      minify,
		TreeShaking:       cond(minify, api.TreeShakingTrue, api.TreeShakingDefault),
		Sourcemap:         cond(sourceMap, api.SourceMapLinked, api.SourceMapNone),
		Define: map[string]string{
			"process.env.NODE_ENV": strconv.Quote(plan.Mode.String()),
		},
		Metafile: true,
		LogLevel: api.LogLevelSilent,
		Plugins:  []api.Plugin{rulesPlugin(ctx, plan, newRunner(plan.Mode, toolchain))},
	}

	if p.config.LiveReload && plan.DevServer.Inline {
		opts.Banner = map[string]string{"js": liveReloadClient}
	}

	return opts, nil
}

// emit writes the outputs of a build and records its metadata
func (p *Pipeline) emit(ctx context.Context, result api.BuildResult, started time.Time) (*Result, error) {
	plan := p.config.Plan
	metrics := telemetry.GetMetrics()
	attrs := metric.WithAttributes(
		attribute.String("mode", plan.Mode.String()),
		attribute.String("variant", string(plan.Variant)),
	)

	metrics.BuildsTotal.Add(ctx, 1, attrs)
	defer func() {
		metrics.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	}()

	for _, msg := range result.Warnings {
		log.Warn().Str("warning", msg.Text).Msg("Build warning")
	}

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			log.Error().Str("error", msg.Text).Msg("Build error")
		}
		metrics.BuildErrorsTotal.Add(ctx, 1, attrs)
		return nil, fmt.Errorf("%w: %s", ErrBuildFailed, messages(result.Errors))
	}

	res, metadata, err := p.writeOutputs(result)
	if err != nil {
		metrics.BuildErrorsTotal.Add(ctx, 1, attrs)
		return nil, err
	}

	var written int64
	for _, f := range res.Manifest.Files {
		written += f.Size
	}
	metrics.OutputBytes.Add(ctx, written, attrs)

	p.mu.Lock()
	p.metadata = metadata
	p.manifest = res.Manifest
	p.mu.Unlock()

	log.Info().
		Str("build_id", res.Manifest.BuildID).
		Int("files", len(res.Files)).
		Dur("duration", time.Since(started)).
		Msg("Built assets")

	return res, nil
}

func (p *Pipeline) writeOutputs(result api.BuildResult) (*Result, *BuildMetadata, error) {
	plan := p.config.Plan

	outDir, err := p.OutputDir()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var comp *compressor
	if pl, ok := plan.Plugin(buildplan.PluginCompression); ok {
		comp, err = newCompressor(pl)
		if err != nil {
			return nil, nil, err
		}
	}

	manifest := newManifest(plan.Mode.String(), string(plan.Variant), plan.Output.PublicPath)
	res := &Result{Manifest: manifest}

	for _, file := range result.OutputFiles {
		path := p.outputPath(outDir, file.Path)

		if err := os.WriteFile(path, file.Contents, 0644); err != nil { // #nosec G306 - public assets
			return nil, nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		log.Debug().Str("file", path).Msg("Built file")

		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return nil, nil, err
		}
		manifest.add(rel, file.Contents)
		res.Files = append(res.Files, path)

		if comp != nil {
			compressed, err := comp.compress(path)
			if err != nil {
				return nil, nil, err
			}
			if compressed != "" {
				res.Files = append(res.Files, compressed)
			}
		}
	}

	// Write metafile
	if err := os.WriteFile(filepath.Join(outDir, cmp.Or(p.config.MetafileName, "meta.json")), []byte(result.Metafile), 0600); err != nil {
		return nil, nil, err
	}

	// Parse and cache metadata
	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
		return nil, nil, err
	}

	if err := manifest.write(filepath.Join(outDir, cmp.Or(p.config.ManifestName, "manifest.json"))); err != nil {
		return nil, nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	return res, &metadata, nil
}

// outputPath moves the extracted stylesheet to the name the extraction plugin asks for
func (p *Pipeline) outputPath(outDir, path string) string {
	stylesheet := p.config.Plan.Stylesheet()
	if stylesheet == "" || filepath.Dir(path) != outDir {
		return path
	}
	switch {
	case strings.HasSuffix(path, ".css"):
		return filepath.Join(outDir, stylesheet)
	case strings.HasSuffix(path, ".css.map"):
		return filepath.Join(outDir, stylesheet+".map")
	default:
		return path
	}
}

// Manifest returns the manifest of the latest successful build
func (p *Pipeline) Manifest() (*Manifest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.manifest == nil {
		return nil, ErrNotBuilt
	}
	return p.manifest, nil
}

// LoadScripts returns the ordered public URLs of the scripts for the plan's entry point
// and its stylesheets
func (p *Pipeline) LoadScripts() ([]string, []string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metadata == nil {
		return nil, nil, ErrNotBuilt
	}

	scripts := []string{}
	stylesheets := []string{}
	visited := make(map[string]bool)

	// Find the output file for the entrypoint
	for outputPath, info := range p.metadata.Outputs {
		if info.EntryPoint == "" || !strings.HasSuffix(outputPath, ".js") {
			continue
		}
		scripts = append(scripts, p.publicURL(outputPath))
		visited[outputPath] = true
		p.addDependencies(info, &scripts, visited)

		if info.CSSBundle != "" {
			stylesheets = append(stylesheets, p.publicURL(p.stylesheetPath(info.CSSBundle)))
		}
		return scripts, stylesheets, nil
	}

	return nil, nil, errors.New("entrypoint not found in metadata")
}

func (p *Pipeline) addDependencies(output OutputInfo, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		chunkInfo, exists := p.metadata.Outputs[imp.Path]
		if !exists || visited[imp.Path] {
			continue
		}
		visited[imp.Path] = true
		*scripts = append(*scripts, p.publicURL(imp.Path))
		p.addDependencies(chunkInfo, scripts, visited)
	}
}

func (p *Pipeline) stylesheetPath(bundle string) string {
	if name := p.config.Plan.Stylesheet(); name != "" {
		return filepath.ToSlash(filepath.Join(filepath.Dir(bundle), name))
	}
	return bundle
}

// publicURL maps a metafile output path, relative to the project root, to its URL
func (p *Pipeline) publicURL(outputPath string) string {
	out := p.config.Plan.Output
	rel := strings.TrimPrefix(filepath.ToSlash(outputPath), filepath.ToSlash(filepath.Clean(out.Directory))+"/")

	prefix := out.PublicPath
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + rel
}

// Handler returns an http.HandlerFunc that renders the index page with the built scripts
func (p *Pipeline) Handler(title string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if p.tmpl == nil {
		return nil, errors.New("template not loaded, use NewWithTemplate")
	}

	if contextFn == nil {
		contextFn = func(ctx context.Context) any {
			return nil
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		scripts, stylesheets, err := p.LoadScripts()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		data := map[string]any{
			"Title":       title,
			"Scripts":     scripts,
			"Stylesheets": stylesheets,
			"Context":     contextFn(r.Context()),
		}

		if err := p.tmpl.ExecuteTemplate(w, IndexTemplate, data); err != nil {
			log.Error().Err(err).Msg("Failed to render template")
		}
	}, nil
}

func messages(msgs []api.Message) string {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text
		if m.Location != nil {
			text = fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "; ")
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
