package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/elmpack/internal/assets"
	"github.com/wolfeidau/elmpack/internal/logger"
)

// BuildCmd resolves the plan and builds it once.
type BuildCmd struct {
	PlanFlags      `embed:""`
	ToolchainFlags `embed:""`
	TelemetryFlags `embed:""`

	Dir       string `help:"project directory" default:"." type:"existingdir" env:"ELMPACK_DIR"`
	SourceMap bool   `help:"emit source maps in production builds" default:"false" env:"ELMPACK_SOURCE_MAP"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting build")

	stop := c.Start(ctx, log, globals.Version)
	defer stop()

	plan, err := c.Plan(ctx)
	if err != nil {
		return err
	}

	cfg := assets.DefaultConfig(plan)
	cfg.ProjectDir = c.Dir
	cfg.SourceMap = c.SourceMap
	cfg.Toolchain = c.Toolchain()

	res, err := assets.New(cfg).Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build assets: %w", err)
	}

	for _, f := range res.Manifest.Files {
		log.Info().Str("file", f.Path).Int64("bytes", f.Size).Str("checksum", f.Checksum).Msg("Output")
	}
	return nil
}
