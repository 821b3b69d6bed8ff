package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/elmpack/internal/buildplan"
	"github.com/wolfeidau/elmpack/internal/logger"
)

// ResolveCmd prints the resolved plan.
type ResolveCmd struct {
	PlanFlags `embed:""`

	Format string `help:"output format" short:"f" default:"json" enum:"json,yaml,webpack"`
	Output string `help:"write to this file instead of stdout" short:"o" type:"path"`
}

func (c *ResolveCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	plan, err := c.Plan(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Str("mode", plan.Mode.String()).
		Str("variant", string(plan.Variant)).
		Str("format", c.Format).
		Msg("Resolved plan")

	encode := func(w io.Writer) error {
		if err := buildplan.Encode(w, plan, buildplan.Format(c.Format)); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return nil
	}

	if c.Output == "" {
		return encode(os.Stdout)
	}
	return writeOutput(c.Output, encode)
}

// writeOutput creates path and passes it to write, reporting close errors
func writeOutput(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	return write(f)
}
