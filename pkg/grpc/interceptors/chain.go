// Package interceptors provides gRPC server interceptors.
package interceptors

import (
	"google.golang.org/grpc"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

// ChainBuilder collects interceptors in the order they should wrap a call.
// Add recovery first so it also covers the interceptors after it.
type ChainBuilder struct {
	unary  []grpc.UnaryServerInterceptor
	stream []grpc.StreamServerInterceptor
}

// NewChainBuilder returns an empty chain.
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

func (b *ChainBuilder) add(u grpc.UnaryServerInterceptor, s grpc.StreamServerInterceptor) *ChainBuilder {
	b.unary = append(b.unary, u)
	b.stream = append(b.stream, s)
	return b
}

// WithRecovery converts handler panics into codes.Internal.
func (b *ChainBuilder) WithRecovery(log logger.Logger) *ChainBuilder {
	return b.add(RecoveryUnaryInterceptor(log), RecoveryStreamInterceptor(log))
}

// WithRequestID propagates or assigns x-request-id.
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	return b.add(RequestIDUnaryInterceptor(), RequestIDStreamInterceptor())
}

// WithLogging logs every call once it completes.
func (b *ChainBuilder) WithLogging(log logger.Logger) *ChainBuilder {
	return b.add(LoggingUnaryInterceptor(log), LoggingStreamInterceptor(log))
}

// WithTracing starts a server span per call.
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	return b.add(TracingUnaryInterceptor(), TracingStreamInterceptor())
}

// Build returns the chain as server options.
func (b *ChainBuilder) Build() []grpc.ServerOption {
	if len(b.unary) == 0 {
		return nil
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(b.unary...),
		grpc.ChainStreamInterceptor(b.stream...),
	}
}
