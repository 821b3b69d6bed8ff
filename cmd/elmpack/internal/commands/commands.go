package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/elmpack/internal/assets"
	"github.com/wolfeidau/elmpack/internal/buildplan"
	"github.com/wolfeidau/elmpack/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// PlanFlags select the build plan
type PlanFlags struct {
	Env        string `help:"build environment, PRODUCTION or DEVELOPMENT (unset means PRODUCTION)" default:"" env:"NODE_ENV"`
	LenientEnv bool   `help:"treat any NODE_ENV other than PRODUCTION as DEVELOPMENT instead of failing" default:"false" env:"ELMPACK_LENIENT_ENV"`
	Variant    string `help:"output variant" default:"default" enum:"default,minified,stylesheets" env:"ELMPACK_VARIANT"`
}

func (f *PlanFlags) Mode() (buildplan.Mode, error) {
	if f.LenientEnv {
		return buildplan.ParseModeLenient(f.Env), nil
	}
	return buildplan.ParseMode(f.Env)
}

// Plan resolves the build plan the flags describe
func (f *PlanFlags) Plan(ctx context.Context) (buildplan.Plan, error) {
	mode, err := f.Mode()
	if err != nil {
		return buildplan.Plan{}, fmt.Errorf("invalid NODE_ENV: %w", err)
	}

	variant, err := buildplan.ParseVariant(f.Variant)
	if err != nil {
		return buildplan.Plan{}, err
	}

	telemetry.GetMetrics().PlansResolvedTotal.Add(ctx, 1)
	return buildplan.Resolve(mode, variant), nil
}

// ToolchainFlags locate the Elm compilers
type ToolchainFlags struct {
	Elm    string `help:"elm executable" default:"elm" env:"ELMPACK_ELM"`
	ElmCSS string `help:"elm-css executable" default:"elm-css" env:"ELMPACK_ELM_CSS"`
}

func (f *ToolchainFlags) Toolchain() *assets.ElmToolchain {
	return assets.NewElmToolchain(f.Elm, f.ElmCSS)
}

type TelemetryFlags struct {
	Tracing     bool    `help:"export traces and metrics over OTLP" default:"false" env:"ELMPACK_TRACING"`
	SampleRatio float64 `help:"fraction of builds traced" default:"1" env:"ELMPACK_TRACE_SAMPLE_RATIO"`
}

// Start initialises telemetry when enabled and returns a function flushing it
func (f *TelemetryFlags) Start(ctx context.Context, log zerolog.Logger, version string) func() {
	if !f.Tracing {
		return func() {}
	}

	log.Info().Msg("Tracing is enabled")
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "elmpack",
		Version:     version,
		SampleRatio: f.SampleRatio,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}
