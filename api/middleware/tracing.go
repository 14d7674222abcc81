package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/tracing"
)

// TracingMiddleware opens a server span per request, continuing the
// caller's trace when the request carries one. Routes with an :id
// parameter are tagged with that account.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := c.Request.Context()
		if id := c.Param("id"); id != "" {
			ctx = tracing.WithAccount(ctx, id)
		}
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(ctx, c.Request.Method+" "+route, c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		ext.HTTPMethod.Set(span, c.Request.Method)
		ext.HTTPUrl.Set(span, c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		ext.HTTPStatusCode.Set(span, uint16(status))
		switch {
		case len(c.Errors) > 0:
			tracing.TraceErr(span, c.Errors.Last().Err)
		case status >= http.StatusInternalServerError:
			tracing.TraceErr(span, errors.New(http.StatusText(status)))
		}
	}
}
