package assets

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// MakeOptions selects the elm make flags for a compile.
type MakeOptions struct {
	Debug    bool
	Optimize bool
}

// Toolchain compiles Elm sources. The elm loaders call it for every matching module.
type Toolchain interface {
	// Make compiles an Elm module to JavaScript.
	Make(ctx context.Context, path string, opts MakeOptions) ([]byte, error)
	// Stylesheets compiles an elm-css stylesheets module to CSS.
	Stylesheets(ctx context.Context, path string) ([]byte, error)
}

// ElmToolchain runs the elm and elm-css executables.
type ElmToolchain struct {
	elm    string
	elmCSS string
}

// NewElmToolchain returns a toolchain using the given executables, falling back
// to elm and elm-css on the PATH when empty.
func NewElmToolchain(elm, elmCSS string) *ElmToolchain {
	if elm == "" {
		elm = "elm"
	}
	if elmCSS == "" {
		elmCSS = "elm-css"
	}
	return &ElmToolchain{elm: elm, elmCSS: elmCSS}
}

func (t *ElmToolchain) Make(ctx context.Context, path string, opts MakeOptions) ([]byte, error) {
	tmp, err := os.MkdirTemp("", "elmpack-make-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, "elm.js")
	args := []string{"make", path, "--output", out}
	switch {
	case opts.Optimize:
		args = append(args, "--optimize")
	case opts.Debug:
		args = append(args, "--debug")
	}

	if err := t.run(ctx, filepath.Dir(path), t.elm, args...); err != nil {
		return nil, err
	}

	return os.ReadFile(out)
}

func (t *ElmToolchain) Stylesheets(ctx context.Context, path string) ([]byte, error) {
	tmp, err := os.MkdirTemp("", "elmpack-css-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := t.run(ctx, filepath.Dir(path), t.elmCSS, path, "--output", tmp); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(tmp, "*.css"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var css bytes.Buffer
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		css.Write(b)
		css.WriteByte('\n')
	}
	return css.Bytes(), nil
}

func (t *ElmToolchain) run(ctx context.Context, dir, name string, args ...string) error {
	log.Debug().Str("cmd", name).Strs("args", args).Str("dir", dir).Msg("Running elm toolchain")

	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - executables come from CLI flags
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w\n%s", name, err, output)
	}
	return nil
}
