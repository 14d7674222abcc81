package tracing

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/exchangestack/internal/logger"
)

// recordPanic logs a recovered panic on its own span and returns the stack.
func recordPanic(tracer opentracing.Tracer, r any) string {
	span := tracer.StartSpan("panic-recovery")
	defer span.Finish()

	stack := string(debug.Stack())
	span.SetTag("error", true)
	span.LogKV(
		"event", "error",
		"error.object", r,
		"stack", stack,
	)
	return stack
}

// RecoveryWithJaeger turns a handler panic into a 500 and records it.
func RecoveryWithJaeger(tracer opentracing.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				recordPanic(tracer, r)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// RecoverAndLogToJaeger is deferred by background jobs.
func RecoverAndLogToJaeger(appLogger logger.Logger) {
	if r := recover(); r != nil {
		stack := recordPanic(opentracing.GlobalTracer(), r)
		appLogger.Errorf("Recovered from panic: %v\nStack trace:\n%s", r, stack)
	}
}
