package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/elmpack/cmd/elmpack/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool                `help:"Enable debug mode."`
		EnvFile string              `help:"Load environment variables from this file when it exists." default:".env" type:"path"`
		Version kong.VersionFlag    `help:"Print version and exit."`
		Resolve commands.ResolveCmd `cmd:"" help:"Print the resolved build plan"`
		Build   commands.BuildCmd   `cmd:"" help:"Build the bundle with esbuild"`
		Serve   commands.ServeCmd   `cmd:"" help:"Serve and rebuild the bundle for development"`
	}
)

func main() {
	// variables already set in the environment take precedence over the file
	if err := godotenv.Load(envFile(os.Args[1:])); err != nil && !errors.Is(err, fs.ErrNotExist) {
		kong.Must(&cli).FatalIfErrorf(err)
	}

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("elmpack"),
		kong.Description("Resolve, build and serve the Elm front-end bundle."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}

// envFile finds --env-file before kong parses, since the file feeds env tag defaults
func envFile(args []string) string {
	for i, arg := range args {
		if arg == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
		if path, ok := strings.CutPrefix(arg, "--env-file="); ok {
			return path
		}
	}
	return ".env"
}
