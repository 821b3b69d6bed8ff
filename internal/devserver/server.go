// Package devserver hosts a plan's build output for local development. It
// rebuilds through esbuild's watch mode and, for inline plans, tells connected
// pages to reload after every successful rebuild.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/elmpack/internal/assets"
	httpmiddleware "github.com/wolfeidau/elmpack/internal/http"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	// HTTP listen address
	Listen string
	// Origins allowed to load assets cross-origin, empty allows any
	CORSOrigins []string
	// Title of the generated index page
	Title string
}

type Server struct {
	cfg      Config
	pipeline *assets.Pipeline
	reload   *broadcaster
	logger   zerolog.Logger
}

func New(cfg Config, pipeline *assets.Pipeline, logger zerolog.Logger) *Server {
	if cfg.Title == "" {
		cfg.Title = "elmpack"
	}
	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		reload:   newBroadcaster(),
		logger:   logger,
	}
}

// Notify tells connected pages to reload
func (s *Server) Notify() int {
	return s.reload.Broadcast()
}

// Handler returns the dev server routes wrapped in CORS and request logging
func (s *Server) Handler() (http.Handler, error) {
	cfg := s.pipeline.Config()
	plan := cfg.Plan

	outDir, err := s.pipeline.OutputDir()
	if err != nil {
		return nil, err
	}

	index, err := s.pipeline.Handler(s.cfg.Title, nil)
	if err != nil {
		return nil, err
	}

	var static http.FileSystem
	if plan.DevServer.ContentBase != "" {
		base := plan.DevServer.ContentBase
		if !filepath.IsAbs(base) {
			base = filepath.Join(cfg.ProjectDir, base)
		}
		static = http.Dir(base)
	}

	mux := http.NewServeMux()

	if plan.DevServer.Inline {
		mux.Handle(assets.LiveReloadPath, s.reload)
	}

	prefix := publicPrefix(plan.Output.PublicPath)
	if prefix == "/" {
		mux.Handle("/", rootHandler(overlay(http.Dir(outDir), static), index))
	} else {
		mux.Handle(prefix, http.StripPrefix(strings.TrimSuffix(prefix, "/"), http.FileServer(http.Dir(outDir))))
		mux.Handle("/", rootHandler(overlay(static), index))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})

	handler := httpmiddleware.RequestLogger(s.logger)(c.Handler(mux))

	// reload streams stay open for the life of the page and are not traced
	return otelhttp.NewHandler(handler, "devserver",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != assets.LiveReloadPath }),
	), nil
}

// Run watches and rebuilds the plan and serves it until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	inline := s.pipeline.Config().Plan.DevServer.Inline

	stop, err := s.pipeline.Watch(ctx, func(res *assets.Result, err error) {
		if err != nil {
			s.logger.Error().Err(err).Msg("Rebuild failed")
			return
		}
		if inline {
			n := s.Notify()
			s.logger.Info().Str("build_id", res.Manifest.BuildID).Int("clients", n).Msg("Rebuilt, reloading clients")
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return s.serve(ctx, ln)
}

// serve handles requests on ln until ctx is cancelled. Request contexts derive
// from ctx so open reload streams end before shutdown waits on them.
func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	handler, err := s.Handler()
	if err != nil {
		ln.Close()
		return err
	}

	srv := configureHTTPServer(ctx, handler)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Bool("inline", s.pipeline.Config().Plan.DevServer.Inline).Msg("Starting dev server")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func configureHTTPServer(ctx context.Context, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// publicPrefix turns a public path into a mux pattern, "" and "/" both serve from the root
func publicPrefix(publicPath string) string {
	if publicPath == "" || publicPath == "/" {
		return "/"
	}
	p := "/" + strings.Trim(publicPath, "/") + "/"
	return path.Clean(p) + "/"
}

// rootHandler serves files from fsys and renders the generated index page when
// no index.html exists.
func rootHandler(fsys http.FileSystem, index http.HandlerFunc) http.Handler {
	files := http.FileServer(fsys)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && !exists(fsys, "/index.html") {
			index(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func exists(fsys http.FileSystem, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// overlayFS opens a name from the first file system that has it
type overlayFS []http.FileSystem

func overlay(layers ...http.FileSystem) overlayFS {
	var fsys overlayFS
	for _, l := range layers {
		if l != nil {
			fsys = append(fsys, l)
		}
	}
	return fsys
}

func (o overlayFS) Open(name string) (http.File, error) {
	for _, l := range o {
		f, err := l.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, os.ErrNotExist
}
