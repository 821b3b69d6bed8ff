package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfeidau/elmpack/internal/assets"
	"github.com/wolfeidau/elmpack/internal/devserver"
	"github.com/wolfeidau/elmpack/internal/logger"
)

// ServeCmd hosts the bundle and rebuilds it when sources change.
type ServeCmd struct {
	PlanFlags      `embed:""`
	ToolchainFlags `embed:""`
	TelemetryFlags `embed:""`

	Dir         string   `help:"project directory" default:"." type:"existingdir" env:"ELMPACK_DIR"`
	Listen      string   `help:"HTTP listen address" default:"localhost:8080" env:"ELMPACK_LISTEN"`
	CORSOrigins []string `help:"origins allowed to load assets, empty allows any" env:"ELMPACK_CORS_ORIGINS"`
	Title       string   `help:"title of the generated index page" default:"elmpack" env:"ELMPACK_TITLE"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stop := c.Start(ctx, log, globals.Version)
	defer stop()

	plan, err := c.Plan(ctx)
	if err != nil {
		return err
	}

	cfg := assets.DefaultConfig(plan)
	cfg.ProjectDir = c.Dir
	cfg.Toolchain = c.Toolchain()
	cfg.LiveReload = true

	pipeline, err := assets.NewWithTemplate(cfg)
	if err != nil {
		return fmt.Errorf("failed to load assets pipeline: %w", err)
	}

	srv := devserver.New(devserver.Config{
		Listen:      c.Listen,
		CORSOrigins: c.CORSOrigins,
		Title:       c.Title,
	}, pipeline, log)

	return srv.Run(ctx)
}
