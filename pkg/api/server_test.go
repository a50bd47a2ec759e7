package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/api/handlers"
	"github.com/flowwatch/flowwatch/pkg/logger"
)

func TestNewHTTPServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8088

	server := NewHTTPServer(cfg, logger.Discard(), &Handlers{Health: handlers.NewHealthHandler(nil, nil)})

	require.NotNil(t, server.server)
	assert.Equal(t, "localhost:8088", server.server.Addr)
	assert.Equal(t, cfg.Server.HTTP.ReadTimeout, server.server.ReadTimeout)
	assert.Equal(t, cfg.Server.HTTP.MaxHeaderBytes, server.server.MaxHeaderBytes)
	assert.NotNil(t, server.Handler())
}

func TestHTTPServer_StartAndShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	server := NewHTTPServer(cfg, logger.Discard(), &Handlers{Health: handlers.NewHealthHandler(nil, nil)})
	addr, err := server.Listen()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(fmt.Sprintf("http://%s/health", addr.String()))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
