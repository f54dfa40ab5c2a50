package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	staffio "github.com/liut/staffio-client"

	"github.com/liut/inkwell/pkg/services/assist"
	"github.com/liut/inkwell/pkg/services/stores"
	"github.com/liut/inkwell/pkg/settings"
)

type Service interface {
	http.Handler
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Config struct {
	Addr  string
	Debug bool

	// defaults to stores.Sgt()
	Store stores.Storage
	// defaults to assist.New with the loaded preset
	Replier assist.Replier
	// formatted rate for the message endpoint, like "30-M"
	SendRate string

	DocHandler http.Handler
}

type server struct {
	Addr string
	cfg  Config

	sto stores.Storage
	rp  assist.Replier

	ar *chi.Mux     // app router
	hs *http.Server // http server

	authzr staffio.Authorizer

	inflight sync.Map // conversation id of sends in progress
}

// New return new web server
func New(cfg Config) Service {
	ar := chi.NewMux()
	if cfg.Debug {
		ar.Use(middleware.Logger)
	}
	ar.Use(middleware.Recoverer, middleware.RealIP)

	s := &server{
		Addr: cfg.Addr, ar: ar,
		cfg: cfg,
		sto: cfg.Store,
		rp:  cfg.Replier,
	}
	if s.sto == nil {
		s.sto = stores.Sgt()
	}
	if s.rp == nil {
		preset, err := assist.LoadPreset()
		if err == nil {
			logger().Infow("loaded preset", "file", settings.Current.PresetFile)
		}
		s.rp = assist.New(preset)
	}
	if len(s.cfg.SendRate) == 0 {
		s.cfg.SendRate = settings.Current.SendRate
	}

	if settings.Current.AuthRequired {
		s.authzr = staffio.NewAuth(staffio.WithCookie(
			settings.Current.CookieName,
			settings.Current.CookiePath,
			settings.Current.CookieDomain,
		), staffio.WithRefresh(), staffio.WithURI(staffio.LoginPath))
	}

	s.strapRouter()

	s.hs = &http.Server{
		Addr:              s.Addr,
		Handler:           s.ar,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Debug {
		logger().Infow("routes:")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			route = strings.Replace(route, "/*/", "/", -1)
			fmt.Fprintf(os.Stderr, "DEBUG: %-6s %-32s --> %s (%d mw)\n", method, route, nameOfFunction(handler), len(middlewares))
			return nil
		}

		if err := chi.Walk(ar, walkFunc); err != nil {
			logger().Infow("router walk fail", "err", err)
		}
	}
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.ar.ServeHTTP(w, r)
}

func (s *server) Serve(ctx context.Context) error {
	// Run HTTP server
	runErrChan := make(chan error, 1)
	t := time.AfterFunc(time.Millisecond*200, func() {
		runErrChan <- s.hs.ListenAndServe()
	})

	defer t.Stop()
	logger().Infow("Listen on", "addr", s.hs.Addr)

	// Wait
	for {
		select {
		case runErr := <-runErrChan:
			if runErr != nil && runErr != http.ErrServerClosed {
				logger().Infow("run http server failed",
					"err", runErr,
				)
				return runErr
			}
			return nil
		case <-ctx.Done():
			logger().Info("http server has been stopped")
			return ctx.Err()
		}
	}
}

func (s *server) Stop(ctx context.Context) error {
	if err := s.hs.Shutdown(ctx); err != nil {
		logger().Warnw("Server Shutdown", "err", err)
		return err
	}
	return nil
}
