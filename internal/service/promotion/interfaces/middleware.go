package interfaces

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/tracing"
)

const requestIDHeader = "X-Request-ID"

// Credentials 是管理端接口的 Basic 认证凭据。User 或 Pass 为空时不启用认证。
type Credentials struct {
	User string
	Pass string
}

func (c Credentials) enabled() bool {
	return c.User != "" && c.Pass != ""
}

// basicAuth wraps a handler with HTTP Basic Authentication.
func basicAuth(creds Credentials, next http.HandlerFunc) http.HandlerFunc {
	if !creds.enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(creds.User)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(creds.Pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Promo Token Admin"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// withRequestContext 从请求头恢复上游的追踪上下文，开启服务端 span，
// 并把带 request_id / trace_id 的 logger 放进 context。
func withRequestContext(tracer trace.Tracer, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.Pattern, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.Pattern),
			attribute.String("request.id", requestID),
		)

		ctx = logger.WithFields(ctx, map[string]string{
			"request_id": requestID,
			"trace_id":   tracing.GetTraceIDFromContext(ctx),
		})
		next(w, r.WithContext(ctx))
	}
}

func warnIfAuthDisabled(creds Credentials) {
	if !creds.enabled() {
		log.Warn().Msg("ADMIN_USER or ADMIN_PASS not set, admin routes have no authentication")
	}
}
