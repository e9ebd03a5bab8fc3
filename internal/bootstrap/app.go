package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yanqian/polyglot-score/internal/infra/config"
)

const shutdownTimeout = 30 * time.Second

// App encapsulates the HTTP server lifecycle.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	server  *http.Server
	closers []func()
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, resources *Resources) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With("component", "bootstrap"),
		server:  server,
		closers: resources.closers,
	}
}

// Run starts the HTTP server and blocks until shutdown. A scoring batch can
// run for minutes, so in-flight requests get shutdownTimeout to finish.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address, "model", a.cfg.Model.Name, "cache_dir", a.cfg.Model.CacheDir)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Resources collects connections opened by providers so they are closed on exit.
type Resources struct {
	closers []func()
}

// NewResources constructs an empty registry.
func NewResources() *Resources {
	return &Resources{}
}

// OnClose registers fn to run when the app stops, in reverse registration order.
func (r *Resources) OnClose(fn func()) {
	if fn != nil {
		r.closers = append(r.closers, fn)
	}
}

// Close runs the registered closers. Used by short-lived commands.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
