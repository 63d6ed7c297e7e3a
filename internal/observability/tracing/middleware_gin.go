package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/billsync/internal/observability/context"
	"github.com/smallbiznis/billsync/internal/tenantcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Gin context keys a handler sets to describe a gateway webhook delivery.
const (
	KeyWebhookEvent   = "webhook_event"
	KeyWebhookOutcome = "webhook_outcome"
)

// GinMiddleware opens the server span for a request. Tenant and webhook
// attributes are read after the handler chain, once they are resolved.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("billsync/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName(strings.TrimSpace(c.Request.Method + " " + route))
		span.SetAttributes(SafeAttributes(requestAttributes(c, route)...)...)

		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func requestAttributes(c *gin.Context, route string) []attribute.KeyValue {
	ctx := c.Request.Context()
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", c.Writer.Status()),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if tenantID, ok := tenantcontext.TenantIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("billsync.tenant_id", tenantID.String()))
	}
	if event := c.GetString(KeyWebhookEvent); event != "" {
		attrs = append(attrs, attribute.String("billsync.webhook.event", event))
	}
	if outcome := c.GetString(KeyWebhookOutcome); outcome != "" {
		attrs = append(attrs, attribute.String("billsync.webhook.outcome", outcome))
	}
	return attrs
}
