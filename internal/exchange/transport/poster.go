package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"

	"github.com/customeros/exchangestack/internal/tracing"
)

// Response is a fully read HTTP response.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Data       []byte
	// URL is the final URL after redirects.
	URL string
}

func (r *Response) WWWAuthenticate() string {
	return strings.Join(r.Header.Values("WWW-Authenticate"), ", ")
}

func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// StreamResponse is an HTTP response whose body is consumed incrementally.
type StreamResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       io.ReadCloser
}

// Poster performs the HTTP exchanges of a Client. Tests substitute their own.
type Poster interface {
	PostHTTP(ctx context.Context, url string, body []byte, header http.Header) (*Response, error)
	StreamHTTP(ctx context.Context, url string, body []byte, header http.Header) (*StreamResponse, error)
}

// CookieSource is implemented by posters that keep a session cookie jar.
type CookieSource interface {
	Cookie(rawURL, name string) string
	ClearCookies()
}

// HTTPPoster is the net/http Poster. Calls share one cookie jar; streams
// use a client without a timeout since they stay open for many minutes.
type HTTPPoster struct {
	mu           sync.RWMutex
	jar          http.CookieJar
	client       *http.Client
	streamClient *http.Client
}

func NewHTTPPoster(timeout time.Duration) (*HTTPPoster, error) {
	p := &HTTPPoster{}
	if err := p.resetJar(); err != nil {
		return nil, err
	}
	p.client = &http.Client{Timeout: timeout, Jar: p}
	p.streamClient = &http.Client{Jar: p}
	return p, nil
}

func (p *HTTPPoster) resetJar() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return errors.Wrap(err, "creating cookie jar")
	}
	p.mu.Lock()
	p.jar = jar
	p.mu.Unlock()
	return nil
}

func (p *HTTPPoster) SetCookies(u *url.URL, cookies []*http.Cookie) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.jar.SetCookies(u, cookies)
}

func (p *HTTPPoster) Cookies(u *url.URL) []*http.Cookie {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jar.Cookies(u)
}

func (p *HTTPPoster) Cookie(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range p.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// ClearCookies ends the web session by dropping every cookie.
func (p *HTTPPoster) ClearCookies() {
	_ = p.resetJar()
}

func (p *HTTPPoster) newRequest(ctx context.Context, rawURL string, body []byte, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if span := opentracing.SpanFromContext(ctx); span != nil {
		tracing.InjectSpanContextIntoHTTPRequest(req, span)
	}
	return req, nil
}

func (p *HTTPPoster) PostHTTP(ctx context.Context, rawURL string, body []byte, header http.Header) (*Response, error) {
	req, err := p.newRequest(ctx, rawURL, body, header)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	return &Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Data:       data,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (p *HTTPPoster) StreamHTTP(ctx context.Context, rawURL string, body []byte, header http.Header) (*StreamResponse, error) {
	req, err := p.newRequest(ctx, rawURL, body, header)
	if err != nil {
		return nil, err
	}
	resp, err := p.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
