package assets

import "github.com/wolfeidau/elmpack/internal/buildplan"

type Config struct {
	// Resolved build plan to execute
	Plan buildplan.Plan
	// Project root that entry points and output directories are relative to
	ProjectDir string
	// Name of the esbuild metafile written into the output directory
	MetafileName string
	// Name of the asset manifest written into the output directory
	ManifestName string
	// Emit linked source maps in production builds too
	SourceMap bool
	// Prepend the live reload client served by the dev server
	LiveReload bool
	// Elm compilers used by the elm loaders
	Toolchain Toolchain
}

// DefaultConfig returns a configuration building plan from the current directory
func DefaultConfig(plan buildplan.Plan) Config {
	return Config{
		Plan:         plan,
		ProjectDir:   ".",
		MetafileName: "meta.json",
		ManifestName: "manifest.json",
		SourceMap:    false,
		Toolchain:    NewElmToolchain("", ""),
	}
}
