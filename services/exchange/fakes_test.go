package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/auth"
	"github.com/customeros/exchangestack/internal/exchange/transport"
	"github.com/customeros/exchangestack/internal/logger"
)

// ewsActions are matched against request bodies in order.
var ewsActions = []string{
	"SyncFolderItems", "GetStreamingEvents", "GetFolder", "FindFolder",
	"UpdateItem", "DeleteItem", "CreateItem", "Subscribe",
}

// routedPoster answers each action from its own queue. The last response of
// a queue is repeated once the others are used up, until on registers new
// responses for that action.
type routedPoster struct {
	mu       sync.Mutex
	protocol string
	queues   map[string][][]byte
	drained  map[string]bool
	calls    []string
	bodies   map[string][]string
	cleared  int
}

func newRoutedPoster(protocol string) *routedPoster {
	return &routedPoster{
		protocol: protocol,
		queues:   make(map[string][][]byte),
		drained:  make(map[string]bool),
		bodies:   make(map[string][]string),
	}
}

func (p *routedPoster) on(action string, responses ...[]byte) *routedPoster {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained[action] {
		p.queues[action] = nil
		p.drained[action] = false
	}
	p.queues[action] = append(p.queues[action], responses...)
	return p
}

func (p *routedPoster) actionOf(body []byte, header http.Header) string {
	if p.protocol == enum.ProtocolOWA.String() {
		return header.Get("Action")
	}
	for _, action := range ewsActions {
		if bytes.Contains(body, []byte(":"+action+">")) {
			return action
		}
	}
	return ""
}

func (p *routedPoster) next(body []byte, header http.Header) *transport.Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	action := p.actionOf(body, header)
	p.calls = append(p.calls, action)
	p.bodies[action] = append(p.bodies[action], string(body))

	queue := p.queues[action]
	if len(queue) == 0 {
		return &transport.Response{Status: http.StatusInternalServerError, StatusText: "no response for " + action, Header: http.Header{}}
	}
	data := queue[0]
	if len(queue) > 1 {
		p.queues[action] = queue[1:]
	} else {
		p.drained[action] = true
	}
	return &transport.Response{Status: http.StatusOK, Header: http.Header{}, Data: data}
}

func (p *routedPoster) PostHTTP(_ context.Context, _ string, body []byte, header http.Header) (*transport.Response, error) {
	return p.next(body, header), nil
}

func (p *routedPoster) StreamHTTP(_ context.Context, _ string, body []byte, header http.Header) (*transport.StreamResponse, error) {
	resp := p.next(body, header)
	return &transport.StreamResponse{
		Status: resp.Status,
		Header: resp.Header,
		Body:   io.NopCloser(bytes.NewReader(resp.Data)),
	}, nil
}

func (p *routedPoster) Cookie(string, string) string { return "" }

func (p *routedPoster) ClearCookies() {
	p.mu.Lock()
	p.cleared++
	p.mu.Unlock()
}

func (p *routedPoster) count(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == action {
			n++
		}
	}
	return n
}

func (p *routedPoster) lastBody(action string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	bodies := p.bodies[action]
	if len(bodies) == 0 {
		return ""
	}
	return bodies[len(bodies)-1]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []interfaces.MailEvent
}

func (r *eventRecorder) record(_ context.Context, event interfaces.MailEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(eventType enum.MailEventType) []interfaces.MailEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.MailEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "debug"})
	appLogger.InitLogger()
	return appLogger
}

func testOptions(t *testing.T, client *transport.Client, events *eventRecorder) accountOptions {
	t.Helper()
	return accountOptions{
		ID:            "acc-1",
		Client:        client,
		Logger:        testLogger(),
		StreamTimeout: 1,
		OnEvent:       events.record,
	}
}

func newTestEWSAccount(t *testing.T, poster *routedPoster, events *eventRecorder) *ewsAccount {
	t.Helper()
	client := transport.NewEWSClient(transport.Options{
		URL:           "https://mail.example.com/EWS/Exchange.asmx",
		AccountID:     "acc-1",
		Poster:        poster,
		Authenticator: auth.NewBasic("user@example.com", "secret"),
	})
	return newEWSAccount(testOptions(t, client, events))
}

func newTestOWAAccount(t *testing.T, poster *routedPoster, events *eventRecorder) *owaAccount {
	t.Helper()
	client := transport.NewOWAClient(transport.Options{
		URL:           "https://mail.example.com/owa",
		AccountID:     "acc-1",
		Poster:        poster,
		Authenticator: auth.NewBasic("user@example.com", "secret"),
	})
	return newOWAAccount(testOptions(t, client, events), poster)
}

func soapResponse(inner string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<m:Response xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages" xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
<m:ResponseMessages>` + inner + `</m:ResponseMessages>
</m:Response>
</s:Body>
</s:Envelope>`)
}

func owaResponse(t *testing.T, item map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"Body": map[string]any{
			"ResponseMessages": map[string]any{"Items": []any{item}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func joinLines(lines ...string) string {
	return strings.Join(lines, "\n")
}
