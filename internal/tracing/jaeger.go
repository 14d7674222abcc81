package tracing

import (
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/uber/jaeger-client-go/config"
	jaegerzap "github.com/uber/jaeger-client-go/log/zap"

	"github.com/customeros/exchangestack/internal/logger"
)

type JaegerConfig struct {
	// Endpoint is a collector URL. Spans go to the local agent when empty.
	Endpoint     string  `env:"JAEGER_ENDPOINT"`
	ServiceName  string  `env:"JAEGER_SERVICE_NAME" envDefault:"exchangestack"`
	AgentHost    string  `env:"JAEGER_AGENT_HOST" envDefault:"localhost"`
	AgentPort    string  `env:"JAEGER_AGENT_PORT" envDefault:"6831"`
	Enabled      bool    `env:"JAEGER_ENABLED" envDefault:"true"`
	LogSpans     bool    `env:"JAEGER_REPORTER_LOG_SPANS" envDefault:"false"`
	SamplerType  string  `env:"JAEGER_SAMPLER_TYPE" envDefault:"const"`
	SamplerParam float64 `env:"JAEGER_SAMPLER_PARAM" envDefault:"1"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (c *JaegerConfig) configuration() *config.Configuration {
	reporter := &config.ReporterConfig{LogSpans: c.LogSpans}
	if c.Endpoint != "" {
		reporter.CollectorEndpoint = c.Endpoint
	} else {
		reporter.LocalAgentHostPort = c.AgentHost + ":" + c.AgentPort
	}
	return &config.Configuration{
		ServiceName: c.ServiceName,
		Sampler: &config.SamplerConfig{
			Type:  c.SamplerType,
			Param: c.SamplerParam,
		},
		Reporter: reporter,
	}
}

// NewJaegerTracer builds the process tracer. A missing or disabled config
// yields a no-op tracer.
func NewJaegerTracer(jaegerConfig *JaegerConfig, log logger.Logger) (opentracing.Tracer, io.Closer, error) {
	if jaegerConfig == nil || !jaegerConfig.Enabled {
		return opentracing.NoopTracer{}, nopCloser{}, nil
	}
	if jaegerConfig.ServiceName == "" {
		return nil, nil, errors.New("jaeger service name is empty")
	}
	tracer, closer, err := jaegerConfig.configuration().NewTracer(config.Logger(jaegerzap.NewLogger(log.Logger())))
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating jaeger tracer")
	}
	return tracer, closer, nil
}
