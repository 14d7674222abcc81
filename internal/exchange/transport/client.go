package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/exchange/auth"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

// statusLoginTimeout is the IIS status OWA answers with once a session expires.
const statusLoginTimeout = 440

const maxErrorBody = 1 << 20

type Options struct {
	URL           string
	AccountID     string
	Poster        Poster
	Authenticator auth.Authenticator
	Logger        logger.Logger
	ServerVersion string
}

// Client sends requests to one Exchange account over EWS or OWA. Both
// share authentication handling: an OAuth2 credential rejected with 401
// or 440 is refreshed once and the call repeated; a rejected basic
// credential is reported as a LoginError when the server offers basic
// authentication at all and as a ConnectError otherwise.
type Client struct {
	url       string
	accountID string
	poster    Poster
	auth      auth.Authenticator
	codec     codec
	log       logger.Logger
}

func NewEWSClient(opts Options) *Client {
	version := opts.ServerVersion
	if version == "" {
		version = request.ServerVersion
	}
	return newClient(opts, opts.URL, ewsCodec{serverVersion: version})
}

// NewOWAClient expects opts.URL to point at the OWA root, e.g. https://host/owa/.
func NewOWAClient(opts Options) *Client {
	base := opts.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	cookies, _ := opts.Poster.(CookieSource)
	return newClient(opts, base, owaCodec{cookies: cookies})
}

func newClient(opts Options, url string, c codec) *Client {
	return &Client{
		url:       url,
		accountID: opts.AccountID,
		poster:    opts.Poster,
		auth:      opts.Authenticator,
		codec:     c,
		log:       opts.Logger,
	}
}

func (c *Client) Protocol() string { return c.codec.protocol() }

func (c *Client) URL() string { return c.url }

func (c *Client) Authenticator() auth.Authenticator { return c.auth }

// Call sends req and returns the decoded response message.
func (c *Client) Call(ctx context.Context, req request.Request) (any, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Call")
	defer span.Finish()
	c.tagSpan(span, req)

	start := time.Now()
	result, err := c.call(ctx, req, true)
	observeCall(c.Protocol(), req.Action(), start, err)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return result, err
}

func (c *Client) call(ctx context.Context, req request.Request, allowRetry bool) (any, error) {
	target, body, header, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.poster.PostHTTP(ctx, target, body, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectError{Message: "could not reach " + c.url, Err: err}
	}

	switch {
	case resp.Status == http.StatusOK:
		return c.codec.decode(req, target, resp)
	case isAuthFailure(resp.Status):
		if err := c.handleAuthFailure(ctx, resp.Status, resp.WWWAuthenticate(), allowRetry); err != nil {
			return nil, err
		}
		return c.call(ctx, req, false)
	default:
		return nil, c.codec.failure(req, resp)
	}
}

// Stream sends req and hands back the open response body for incremental reading.
func (c *Client) Stream(ctx context.Context, req request.Request) (io.ReadCloser, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Stream")
	defer span.Finish()
	c.tagSpan(span, req)

	body, err := c.stream(ctx, req, true)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return body, err
}

func (c *Client) stream(ctx context.Context, req request.Request, allowRetry bool) (io.ReadCloser, error) {
	target, body, header, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.poster.StreamHTTP(ctx, target, body, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectError{Message: "could not reach " + c.url, Err: err}
	}
	if resp.Status == http.StatusOK {
		return resp.Body, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	full := &Response{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		Data:       data,
		URL:        target,
	}
	if isAuthFailure(resp.Status) {
		if err := c.handleAuthFailure(ctx, resp.Status, full.WWWAuthenticate(), allowRetry); err != nil {
			return nil, err
		}
		return c.stream(ctx, req, false)
	}
	return nil, c.codec.failure(req, full)
}

func (c *Client) prepare(req request.Request) (string, []byte, http.Header, error) {
	target, body, header, err := c.codec.encode(c.url, req)
	if err != nil {
		return "", nil, nil, errors.Wrapf(err, "encoding %s", req.Action())
	}
	header.Set("client-request-id", uuid.NewString())
	header.Set("return-client-request-id", "true")
	if value, err := c.auth.AuthorizationHeader(); err == nil {
		header.Set("Authorization", value)
	}
	return target, body, header, nil
}

func (c *Client) handleAuthFailure(ctx context.Context, status int, wwwAuthenticate string, allowRetry bool) error {
	if c.Protocol() == ProtocolOWA {
		if cookies, ok := c.poster.(CookieSource); ok {
			cookies.ClearCookies()
		}
	}

	if c.auth.Kind() == auth.KindOAuth2 {
		if !allowRetry {
			return &LoginError{Message: fmt.Sprintf("server rejected the renewed token with HTTP %d", status)}
		}
		reauthTotal.WithLabelValues(c.Protocol()).Inc()
		if c.log != nil {
			c.log.Infof("[%s] token rejected with HTTP %d, logging in again", c.accountID, status)
		}
		c.auth.Reset()
		if err := c.auth.Login(ctx, false); err != nil {
			return &LoginError{Message: "could not renew token", Err: err}
		}
		return nil
	}

	if strings.Contains(strings.ToLower(wwwAuthenticate), "basic") {
		return &LoginError{Message: "wrong username or password"}
	}
	offered := wwwAuthenticate
	if offered == "" {
		offered = "none"
	}
	return &ConnectError{Message: "server does not accept basic authentication, it offers: " + offered}
}

func (c *Client) tagSpan(span opentracing.Span, req request.Request) {
	tracing.TagComponentTransport(span)
	tracing.TagAccount(span, c.accountID)
	span.SetTag(tracing.SpanTagProtocol, c.Protocol())
	span.SetTag(tracing.SpanTagAction, req.Action())
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == statusLoginTimeout
}
