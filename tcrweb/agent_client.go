package tcrweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/tcr"
)

// AgentClient consumes an AgentServer, presenting its event stream as a
// tcr.Source and its clock endpoint as a tcr.RemoteClock: point a session's
// Source and Clock at the same AgentClient to trace a remote producer.
//
// The SSE stream is read by the eventsource client, which manages its own
// connection on the process default HTTP transport; register unixtransport
// on http.DefaultTransport to reach http+unix targets. HTTPClient covers
// the clock probes.
type AgentClient struct {
	// URI of the remote agent server, scheme included. Required.
	URI string

	// HTTPClient used for clock probes. Optional.
	HTTPClient HTTPClient

	// SendBuffer of the subscription channel. Min 1, default 100, max 100k.
	SendBuffer int

	// HandshakeTimeout bounds how long Subscribe waits for the server's
	// init message. Default 5s, min 1s, max 60s.
	HandshakeTimeout time.Duration

	// RetryInterval between stream reconnect attempts. Default 3s, min 1s,
	// max 60s.
	RetryInterval time.Duration

	// StatsInterval requested from the server for heartbeat messages.
	// Default 10s, min 1s, max 60s.
	StatsInterval time.Duration

	// OnRead is called for every stream message received by the client.
	// Implementations must not block.
	OnRead func(ctx context.Context, messageType string, data []byte)

	// Logger for client diagnostics. Optional.
	Logger *log.Logger
}

var (
	_ tcr.Source      = (*AgentClient)(nil)
	_ tcr.RemoteClock = (*AgentClient)(nil)
)

// NewAgentClient constructs an agent client for the given base URI.
func NewAgentClient(uri string) *AgentClient {
	c := &AgentClient{
		URI: uri,
	}
	c.initialize()
	return c
}

func (c *AgentClient) initialize() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	if c.URI != "" && !strings.HasPrefix(c.URI, "http") {
		c.URI = "http://" + c.URI
	}

	if min, def, max := 1, 100, 100000; c.SendBuffer == 0 {
		c.SendBuffer = def
	} else if c.SendBuffer < min {
		c.SendBuffer = min
	} else if c.SendBuffer > max {
		c.SendBuffer = max
	}

	if def, min, max := 5*time.Second, time.Second, 60*time.Second; c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def
	} else if c.HandshakeTimeout < min {
		c.HandshakeTimeout = min
	} else if c.HandshakeTimeout > max {
		c.HandshakeTimeout = max
	}

	if def, min, max := 3*time.Second, time.Second, 60*time.Second; c.RetryInterval == 0 {
		c.RetryInterval = def
	} else if c.RetryInterval < min {
		c.RetryInterval = min
	} else if c.RetryInterval > max {
		c.RetryInterval = max
	}

	if def, min, max := 10*time.Second, time.Second, 60*time.Second; c.StatsInterval == 0 {
		c.StatsInterval = def
	} else if c.StatsInterval < min {
		c.StatsInterval = min
	} else if c.StatsInterval > max {
		c.StatsInterval = max
	}

	if c.OnRead == nil {
		c.OnRead = func(ctx context.Context, messageType string, data []byte) {}
	}

	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
}

// endpoint resolves a path against the base URI, tolerating the trailing
// colon-path form used by http+unix URIs.
func (c *AgentClient) endpoint(path string) (string, error) {
	uri, err := url.Parse(c.URI)
	if err != nil {
		return "", fmt.Errorf("parse URI: %w", err)
	}
	uri.Path = strings.TrimSuffix(uri.Path, "/") + path
	return uri.String(), nil
}

//
//
//

// Subscribe implements tcr.Source. It issues the SSE request and blocks
// until the server's init message arrives, so a refused subscription fails
// here rather than surfacing later as a broken stream. The returned
// subscription's channel closes when the server sends its complete message,
// or the stream ends for any other reason.
func (c *AgentClient) Subscribe(ctx context.Context, pattern tcr.Pattern, cfg tcr.SubscribeConfig) (tcr.Subscription, error) {
	c.initialize()

	endpoint, err := c.endpoint("/events")
	if err != nil {
		return nil, err
	}

	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	query := uri.Query()
	query.Set("pattern", string(pattern))
	if cfg.EventBudget > 0 {
		query.Set("events", strconv.Itoa(cfg.EventBudget))
	}
	if cfg.TimeBudget > 0 {
		query.Set("within", cfg.TimeBudget.String())
	}
	query.Set("buf", strconv.Itoa(c.SendBuffer))
	query.Set("stats", c.StatsInterval.String())
	uri.RawQuery = query.Encode()

	// The request deliberately has no context: the eventsource client
	// re-uses it across reconnects, and treats context cancelation as a
	// recoverable error. Lifetime is managed with Close instead.
	req, err := http.NewRequest("GET", uri.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("accept", "text/event-stream")

	es := eventsource.New(req, c.RetryInterval)

	// Handshake: the first message on a healthy stream is always init.
	type readResult struct {
		ev  eventsource.Event
		err error
	}
	handshakec := make(chan readResult, 1)
	go func() {
		ev, err := es.Read()
		handshakec <- readResult{ev, err}
	}()

	select {
	case res := <-handshakec:
		switch {
		case res.err != nil:
			es.Close()
			return nil, fmt.Errorf("subscribe: %w", res.err)
		case res.ev.Type != "init":
			es.Close()
			return nil, fmt.Errorf("subscribe: unexpected first message %q", res.ev.Type)
		}
		c.OnRead(ctx, res.ev.Type, res.ev.Data)
		c.Logger.Printf("agent client: subscribed, init %s", string(res.ev.Data))

	case <-time.After(c.HandshakeTimeout):
		es.Close()
		return nil, fmt.Errorf("subscribe: no init message within %s", c.HandshakeTimeout)

	case <-ctx.Done():
		es.Close()
		return nil, ctx.Err()
	}

	streamctx, cancel := context.WithCancel(context.Background())

	sub := &agentSubscription{
		cancel: cancel,
		c:      make(chan tcr.RawEvent, c.SendBuffer),
	}

	go func() {
		<-streamctx.Done()
		es.Close()
	}()

	go func() {
		defer close(sub.c)
		defer cancel() // the eventsource reconnects forever if left open
		for {
			ev, err := es.Read()
			if errors.Is(err, eventsource.ErrClosed) {
				return
			}
			if err != nil {
				c.Logger.Printf("agent client: read stream: %v", err)
				return
			}

			c.OnRead(streamctx, ev.Type, ev.Data)

			switch ev.Type {
			case "event":
				var raw tcr.RawEvent
				if err := json.Unmarshal(ev.Data, &raw); err != nil {
					c.Logger.Printf("agent client: decode event: %v", err)
					continue
				}
				select {
				case sub.c <- raw:
				case <-streamctx.Done():
					return
				}

			case "complete":
				c.Logger.Printf("agent client: stream complete: %s", string(ev.Data))
				return

			case "stats":
				c.Logger.Printf("agent client: stream stats: %s", string(ev.Data))

			default:
				c.Logger.Printf("agent client: unknown message type %q", ev.Type)
			}
		}
	}()

	return sub, nil
}

// agentSubscription adapts one SSE stream to tcr.Subscription. The reader
// goroutine owns the channel and closes it on stream end; Unsubscribe only
// cancels, so it's naturally idempotent.
type agentSubscription struct {
	cancel context.CancelFunc
	c      chan tcr.RawEvent
}

var _ tcr.Subscription = (*agentSubscription)(nil)

func (s *agentSubscription) Events() <-chan tcr.RawEvent {
	return s.c
}

func (s *agentSubscription) Unsubscribe() {
	s.cancel()
}

//
//
//

// RemoteNow implements tcr.RemoteClock with GET /clock. The target is
// implied by the URI the client was constructed with.
func (c *AgentClient) RemoteNow(ctx context.Context, target tcr.Target) (time.Time, error) {
	c.initialize()

	endpoint, err := c.endpoint("/clock")
	if err != nil {
		return time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("create clock request: %w", err)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("execute clock request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("clock response %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	}

	var data clockResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return time.Time{}, fmt.Errorf("decode clock response: %w", err)
	}

	return data.Now, nil
}
