package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/elmpack/internal/buildplan"
)

// ErrUnsupportedStep indicates a rule uses a loader with no esbuild equivalent
var ErrUnsupportedStep = errors.New("unsupported transform step")

// source is the value flowing through a loader chain.
type source struct {
	path     string
	contents []byte
	loader   api.Loader
}

func (s *source) read() error {
	if s.contents != nil {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	s.contents = b
	return nil
}

type stepFunc func(ctx context.Context, s *source, opts map[string]any) error

// runner executes plan steps for a single build.
type runner struct {
	mode      buildplan.Mode
	toolchain Toolchain
	steps     map[string]stepFunc
}

func newRunner(mode buildplan.Mode, toolchain Toolchain) *runner {
	r := &runner{mode: mode, toolchain: toolchain}
	r.steps = map[string]stepFunc{
		buildplan.LoaderBabel:       r.babel,
		buildplan.LoaderElm:         r.elm,
		buildplan.LoaderElmHot:      r.elmHot,
		buildplan.LoaderElmCSS:      r.elmCSS,
		buildplan.LoaderCSS:         r.css,
		buildplan.LoaderStyle:       r.style,
		buildplan.LoaderExtractText: r.extract,
	}
	return r
}

// run executes a chain from the last step to the first, as webpack does.
func (r *runner) run(ctx context.Context, path string, chain []buildplan.Step) (*source, error) {
	s := &source{path: path, loader: api.LoaderDefault}
	for i := len(chain) - 1; i >= 0; i-- {
		if err := r.runStep(ctx, s, chain[i].Loader, chain[i].Options); err != nil {
			return nil, err
		}
	}
	if err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *runner) runStep(ctx context.Context, s *source, loader string, opts map[string]any) error {
	fn, ok := r.steps[loader]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedStep, loader)
	}
	if err := fn(ctx, s, opts); err != nil {
		return fmt.Errorf("%s: %w", loader, err)
	}
	return nil
}

// babel leaves syntax lowering to esbuild's own JS loader.
func (r *runner) babel(_ context.Context, s *source, _ map[string]any) error {
	s.loader = api.LoaderJS
	return s.read()
}

func (r *runner) elm(ctx context.Context, s *source, opts map[string]any) error {
	debug, _ := opts["debug"].(bool)
	out, err := r.toolchain.Make(ctx, s.path, MakeOptions{
		Debug:    debug,
		Optimize: r.mode == buildplan.Production,
	})
	if err != nil {
		return err
	}

	// elm make output attaches Elm to the this it is called with
	s.contents = []byte("var scope = {};\n(function() {\n" + string(out) + "\n}).call(scope);\nmodule.exports = scope.Elm;\n")
	s.loader = api.LoaderJS
	return nil
}

// elmHot is a no-op, esbuild has no module replacement and the dev server reloads instead.
func (r *runner) elmHot(_ context.Context, s *source, _ map[string]any) error {
	log.Debug().Str("path", s.path).Msg("Hot reload step handled by live reload")
	return nil
}

func (r *runner) elmCSS(ctx context.Context, s *source, _ map[string]any) error {
	out, err := r.toolchain.Stylesheets(ctx, s.path)
	if err != nil {
		return err
	}
	s.contents = out
	s.loader = api.LoaderCSS
	return nil
}

func (r *runner) css(_ context.Context, s *source, _ map[string]any) error {
	if err := s.read(); err != nil {
		return err
	}
	s.loader = api.LoaderCSS
	return nil
}

// style turns CSS into a module that injects it into the page.
func (r *runner) style(_ context.Context, s *source, _ map[string]any) error {
	if err := s.read(); err != nil {
		return err
	}
	if s.loader == api.LoaderJS {
		return errors.New("style-loader expects CSS input")
	}

	text, err := json.Marshal(string(s.contents))
	if err != nil {
		return err
	}

	s.contents = []byte(fmt.Sprintf(`(function() {
  var style = document.createElement("style");
  style.setAttribute("data-source", %q);
  style.textContent = %s;
  document.head.appendChild(style);
})();
`, filepath.Base(s.path), text))
	s.loader = api.LoaderJS
	return nil
}

// extract runs the inner loaders and keeps the result as CSS so esbuild
// writes it to a separate stylesheet.
func (r *runner) extract(ctx context.Context, s *source, opts map[string]any) error {
	inner, _ := opts["use"].([]string)
	for i := len(inner) - 1; i >= 0; i-- {
		if err := r.runStep(ctx, s, inner[i], nil); err != nil {
			return err
		}
	}
	if err := s.read(); err != nil {
		return err
	}
	if s.loader != api.LoaderCSS {
		return errors.New("extracted chain did not produce CSS")
	}
	return nil
}

// rulesPlugin registers one esbuild load callback per plan rule. Paths a rule
// excludes fall through to later callbacks and esbuild's default loaders.
func rulesPlugin(ctx context.Context, plan buildplan.Plan, r *runner) api.Plugin {
	return api.Plugin{
		Name: "elmpack-rules",
		Setup: func(build api.PluginBuild) {
			for _, rule := range plan.Rules {
				if rule.Test == nil {
					continue
				}
				build.OnLoad(api.OnLoadOptions{Filter: rule.Test.String(), Namespace: "file"},
					func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						if !rule.Matches(args.Path) {
							return api.OnLoadResult{}, nil
						}

						s, err := r.run(ctx, args.Path, rule.Use)
						if err != nil {
							return api.OnLoadResult{}, err
						}

						contents := string(s.contents)
						return api.OnLoadResult{
							Contents:   &contents,
							ResolveDir: filepath.Dir(args.Path),
							Loader:     s.loader,
						}, nil
					})
			}
		},
	}
}
