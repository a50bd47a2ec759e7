package interceptors

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

var unaryInfo = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: logger.InfoLevel, Format: "json", Writer: &buf})

	_, err := RecoveryUnaryInterceptor(log)(context.Background(), nil, unaryInfo, func(context.Context, any) (any, error) {
		panic("boom")
	})

	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "/grpc.health.v1.Health/Check")
}

func TestRequestIDUnaryInterceptor(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	capture := func(ctx context.Context, _ any) (any, error) {
		id, ok := RequestIDFromContext(ctx)
		require.True(t, ok)
		return id, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDKey, "req-7"))
	got, err := interceptor(ctx, nil, unaryInfo, capture)
	require.NoError(t, err)
	assert.Equal(t, "req-7", got)

	got, err = interceptor(context.Background(), nil, unaryInfo, capture)
	require.NoError(t, err)
	assert.Len(t, got, 36)
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: logger.DebugLevel, Format: "json", Writer: &buf})
	interceptor := LoggingUnaryInterceptor(log)

	_, err := interceptor(context.Background(), nil, unaryInfo, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"code":"NotFound"`)
	assert.Contains(t, out, `"level":"WARN"`)
}

func TestSplitMethod(t *testing.T) {
	service, method := splitMethod("/grpc.health.v1.Health/Watch")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Watch", method)

	service, method = splitMethod("")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestChainBuilder_Build(t *testing.T) {
	assert.Empty(t, NewChainBuilder().Build())
	opts := NewChainBuilder().WithRecovery(logger.Discard()).WithRequestID().WithLogging(logger.Discard()).WithTracing().Build()
	assert.Len(t, opts, 2)
}
