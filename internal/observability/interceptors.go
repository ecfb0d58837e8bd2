// Package observability provides gRPC interceptors for metrics and logging.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transcription-relay/internal/observability/metrics"
)

// Services polled by load balancers and tooling.
var quietServices = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

// callLevel picks the log level for a finished call. Health checks and
// reflection stay at debug so polling does not flood the log.
func callLevel(method string, code codes.Code) zerolog.Level {
	for _, prefix := range quietServices {
		if strings.HasPrefix(method, prefix) {
			return zerolog.DebugLevel
		}
	}
	switch code {
	case codes.OK, codes.Canceled:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

func logCall(kind, method string, code codes.Code, d time.Duration) {
	log.WithLevel(callLevel(method, code)).
		Str("component", "grpc").
		Str("kind", kind).
		Str("method", method).
		Str("code", code.String()).
		Dur("duration", d).
		Msg("gRPC call finished")
}

// UnaryServerInterceptor records call metrics and logs each unary call.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		d := time.Since(start)
		code := status.Code(err)
		m.RecordGRPCCall(info.FullMethod, code.String(), d.Seconds())
		logCall("unary", info.FullMethod, code, d)
		return resp, err
	}
}

// StreamServerInterceptor tracks open streams. Health Watch streams pass
// through here and are logged at debug.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		m.RecordStreamStart()
		err := handler(srv, ss)

		d := time.Since(start)
		code := status.Code(err)
		m.RecordStreamEnd(info.FullMethod, code.String(), d.Seconds())
		logCall("stream", info.FullMethod, code, d)
		return err
	}
}
