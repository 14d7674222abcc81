package stream

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader returns its content a few bytes at a time.
type chunkedReader struct {
	r    io.Reader
	size int
	end  error
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	n, err := c.r.Read(p)
	if err == io.EOF && c.end != nil {
		return n, c.end
	}
	return n, err
}

func (c *chunkedReader) Close() error { return nil }

// fakeSource serves one scripted body per Open call and stops the test
// once the script runs out.
type fakeSource struct {
	mu         sync.Mutex
	subscribes int
	opened     []string
	bodies     []string
	failOpen   error
	bodyEnd    error
	handled    []string
	stop       context.CancelFunc
}

func (f *fakeSource) Subscribe(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	return "sub-" + string(rune('0'+f.subscribes)), nil
}

func (f *fakeSource) Open(ctx context.Context, subscriptionID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, subscriptionID)
	if f.failOpen != nil {
		return nil, f.failOpen
	}
	if len(f.bodies) == 0 {
		f.stop()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	return &chunkedReader{r: strings.NewReader(body), size: 5, end: f.bodyEnd}, nil
}

func (f *fakeSource) Split(data []byte) (int, []byte, bool) {
	return SplitScripts(data)
}

func (f *fakeSource) Handle(ctx context.Context, unit []byte) error {
	f.mu.Lock()
	f.handled = append(f.handled, string(unit))
	f.mu.Unlock()
	switch string(unit) {
	case "closed":
		return ErrConnectionClosed
	case "expired":
		return ErrResubscribe
	case "bad":
		return errors.New("cannot decode unit")
	}
	return nil
}

func runChannel(t *testing.T, source *fakeSource, onError func(error)) (*Channel, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	source.stop = cancel
	ch := NewChannel(source, Options{AccountID: "acc", Protocol: "ews", OnError: onError})
	err := ch.Run(ctx)
	return ch, err
}

func TestChannel_ReconnectsAfterEndOfStream(t *testing.T) {
	source := &fakeSource{bodies: []string{
		"<script>a</script><script>b</script>",
		"<script>c</script>",
	}}

	ch, err := runChannel(t, source, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, source.subscribes)
	assert.Equal(t, []string{"sub-1", "sub-1", "sub-1"}, source.opened)
	assert.Equal(t, []string{"a", "b", "c"}, source.handled)
	assert.Equal(t, StateClosed, ch.State())
}

func TestChannel_ConnectionClosedKeepsSubscription(t *testing.T) {
	source := &fakeSource{bodies: []string{
		"<script>a</script><script>closed</script><script>dropped</script>",
		"<script>b</script>",
	}}

	_, err := runChannel(t, source, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, source.subscribes)
	assert.Equal(t, []string{"a", "closed", "b"}, source.handled)
}

func TestChannel_ResubscribesWhenSubscriptionExpires(t *testing.T) {
	source := &fakeSource{bodies: []string{
		"<script>expired</script>",
		"<script>b</script>",
	}}

	_, err := runChannel(t, source, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, source.subscribes)
	assert.Equal(t, []string{"sub-1", "sub-2", "sub-2"}, source.opened)
}

func TestChannel_UnitErrorsDoNotStopStream(t *testing.T) {
	source := &fakeSource{bodies: []string{
		"<script>a</script><script>bad</script><script>c</script>",
	}}
	var reported []error

	_, err := runChannel(t, source, func(err error) { reported = append(reported, err) })

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bad", "c"}, source.handled)
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "cannot decode unit")
}

func TestChannel_OpenFailureClosesChannel(t *testing.T) {
	source := &fakeSource{failOpen: errors.New("connection refused")}
	var reported []error

	ch, err := runChannel(t, source, func(err error) { reported = append(reported, err) })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateClosed, ch.State())
	require.Len(t, reported, 1)
	assert.Equal(t, err, reported[0])

	assert.ErrorIs(t, ch.Run(context.Background()), ErrClosed)
	assert.Len(t, reported, 1)
}

func TestChannel_UnexpectedEOFReconnects(t *testing.T) {
	source := &fakeSource{
		bodies: []string{
			"<script>a</script><scr",
			"<script>b</script>",
		},
		bodyEnd: io.ErrUnexpectedEOF,
	}
	var reported []error

	ch, err := runChannel(t, source, func(err error) { reported = append(reported, err) })

	require.NoError(t, err)
	assert.Equal(t, 1, source.subscribes)
	assert.Equal(t, []string{"a", "b"}, source.handled)
	assert.Len(t, source.opened, 3)
	assert.Empty(t, reported)
	assert.Equal(t, StateClosed, ch.State())
}

type failingSubscriber struct {
	fakeSource
}

func (f *failingSubscriber) Subscribe(ctx context.Context) (string, error) {
	return "", errors.New("access denied")
}

func TestChannel_SubscribeFailure(t *testing.T) {
	source := &failingSubscriber{}
	ch := NewChannel(source, Options{Protocol: "owa"})

	err := ch.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribing to notifications")
	assert.Empty(t, source.opened)
}

func TestChannel_MinBackoffSpacesOpenings(t *testing.T) {
	source := &fakeSource{bodies: []string{"", ""}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	source.stop = cancel
	ch := NewChannel(source, Options{Protocol: "ews", MinBackoff: 50 * time.Millisecond})

	start := time.Now()
	require.NoError(t, ch.Run(ctx))

	assert.Len(t, source.opened, 3)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
