package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

// LoggingUnaryInterceptor logs one line per unary RPC.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, log, "gRPC request", info.FullMethod, start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor logs one line per stream when it ends.
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), log, "gRPC stream", info.FullMethod, start, err)
		return err
	}
}

func logCall(ctx context.Context, log logger.Logger, msg, method string, start time.Time, err error) {
	code := status.Code(err)
	requestID, _ := RequestIDFromContext(ctx)
	args := []any{
		"method", method,
		"code", code.String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	}

	switch code {
	case codes.OK:
		log.DebugContext(ctx, msg, args...)
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		log.ErrorContext(ctx, msg, append(args, "error", err)...)
	default:
		log.WarnContext(ctx, msg, append(args, "error", err)...)
	}
}
