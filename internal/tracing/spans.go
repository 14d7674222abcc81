package tracing

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

const uberTraceIDKey = "uber-trace-id"

type accountKey struct{}

// WithAccount stores the account id so spans started below pick it up.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

func AccountFromContext(ctx context.Context) string {
	accountID, _ := ctx.Value(accountKey{}).(string)
	return accountID
}

func StartTracerSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	span := opentracing.GlobalTracer().StartSpan(operationName)
	return span, opentracing.ContextWithSpan(ctx, span)
}

// startChildOfRemote starts a server span continuing the remote trace in
// spanCtx, or a new trace when extraction failed.
func startChildOfRemote(ctx context.Context, operationName string, spanCtx opentracing.SpanContext, err error) (context.Context, opentracing.Span) {
	tracer := opentracing.GlobalTracer()
	var span opentracing.Span
	if err != nil {
		span = tracer.StartSpan(operationName)
	} else {
		span = tracer.StartSpan(operationName, ext.RPCServerOption(spanCtx))
	}
	return opentracing.ContextWithSpan(ctx, span), span
}

// StartHttpServerTracerSpanWithHeader continues the trace of an incoming
// REST call.
func StartHttpServerTracerSpanWithHeader(ctx context.Context, operationName string, headers http.Header) (context.Context, opentracing.Span) {
	spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
	return startChildOfRemote(ctx, operationName, spanCtx, err)
}

// StartRabbitMQMessageTracerSpanWithHeader continues the trace carried in
// the metadata of a consumed event.
func StartRabbitMQMessageTracerSpanWithHeader(ctx context.Context, operationName string, uberTraceID string) (context.Context, opentracing.Span) {
	carrier := opentracing.TextMapCarrier{uberTraceIDKey: uberTraceID}
	spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, carrier)
	return startChildOfRemote(ctx, operationName, spanCtx, err)
}

// InjectSpanContextIntoHTTPRequest propagates span to the Exchange server
// through the request headers.
func InjectSpanContextIntoHTTPRequest(req *http.Request, span opentracing.Span) *http.Request {
	if span != nil {
		_ = span.Tracer().Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header))
	}
	return req
}

// ExtractTextMapCarrier serializes spanCtx for event metadata. It is empty
// when the tracer cannot inject.
func ExtractTextMapCarrier(spanCtx opentracing.SpanContext) opentracing.TextMapCarrier {
	carrier := make(opentracing.TextMapCarrier)
	if err := opentracing.GlobalTracer().Inject(spanCtx, opentracing.TextMap, carrier); err != nil {
		return make(opentracing.TextMapCarrier)
	}
	return carrier
}

// UberTraceID returns the jaeger trace header of spanCtx, if any.
func UberTraceID(spanCtx opentracing.SpanContext) string {
	return ExtractTextMapCarrier(spanCtx)[uberTraceIDKey]
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	ext.LogError(span, err, fields...)
}

func LogObjectAsJson(span opentracing.Span, name string, object any) {
	if object == nil {
		span.LogFields(log.String(name, "nil"))
		return
	}
	data, err := json.Marshal(object)
	if err != nil {
		span.LogFields(log.Object(name, object))
		return
	}
	span.LogFields(log.String(name, string(data)))
}
