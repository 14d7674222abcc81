package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
)

const (
	SpanTagAccountId = "account.id"
	SpanTagProtocol  = "exchange.protocol"
	SpanTagAction    = "exchange.action"
	SpanTagFolderId  = "folder.id"
	SpanTagComponent = "component"
)

const (
	SpanTagComponentPostgresRepository = "postgresRepository"
	SpanTagComponentRest               = "rest"
	SpanTagComponentCronJob            = "cronJob"
	SpanTagComponentService            = "service"
	SpanTagComponentTransport          = "exchangeTransport"
	SpanTagComponentStream             = "notificationStream"
	SpanTagComponentReconciler         = "reconciler"
	SpanTagComponentListener           = "listener"
)

func TagAccount(span opentracing.Span, accountID string) {
	if accountID != "" {
		span.SetTag(SpanTagAccountId, accountID)
	}
}

func tagDefaults(ctx context.Context, span opentracing.Span, component string) {
	TagAccount(span, AccountFromContext(ctx))
	span.SetTag(SpanTagComponent, component)
}

func SetDefaultRestSpanTags(ctx context.Context, span opentracing.Span) {
	tagDefaults(ctx, span, SpanTagComponentRest)
}

func SetDefaultServiceSpanTags(ctx context.Context, span opentracing.Span) {
	tagDefaults(ctx, span, SpanTagComponentService)
}

func SetDefaultListenerSpanTags(ctx context.Context, span opentracing.Span) {
	tagDefaults(ctx, span, SpanTagComponentListener)
}

func TagComponentPostgresRepository(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentPostgresRepository)
}

func TagComponentCronJob(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCronJob)
}

func TagComponentTransport(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentTransport)
}

func TagComponentStream(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentStream)
}

func TagComponentReconciler(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentReconciler)
}
