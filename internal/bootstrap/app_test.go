package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/polyglot-score/internal/infra/config"
)

func TestAppRunStopsOnCancelAndClosesResources(t *testing.T) {
	var closed []string
	res := NewResources()
	res.OnClose(func() { closed = append(closed, "pool") })
	res.OnClose(func() { closed = append(closed, "valkey") })

	cfg := &config.Config{HTTP: config.HTTPConfig{Address: "127.0.0.1:0"}}
	server := &http.Server{Addr: cfg.HTTP.Address, Handler: http.NotFoundHandler()}
	app := NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), server, res)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	require.Equal(t, []string{"valkey", "pool"}, closed)
}

func TestResourcesCloseRunsOnce(t *testing.T) {
	calls := 0
	res := NewResources()
	res.OnClose(func() { calls++ })
	res.OnClose(nil)
	res.Close()
	res.Close()
	require.Equal(t, 1, calls)
}
