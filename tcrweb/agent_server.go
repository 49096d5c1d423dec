// Package tcrweb provides the HTTP transport between sessions and remote
// producer agents. AgentServer exposes a local tcr.Source as a server-sent
// event stream plus a clock endpoint; AgentClient consumes those endpoints
// and presents them back as a tcr.Source and tcr.RemoteClock. Raw events
// travel as JSON envelopes in SSE messages, so the wire format lives
// entirely in this package.
package tcrweb

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/internal/tcrutil"
)

// DefaultEventBuffer is the per-stream event buffer used when a client
// doesn't request one with the buf query parameter.
const DefaultEventBuffer = 100

// AgentServer serves a producer's event stream over HTTP.
//
//	GET /events?pattern=P&events=N&within=D&buf=B&stats=D
//	    subscribes to the source and streams server-sent events: one "init"
//	    message, an "event" message per raw event, periodic "stats"
//	    heartbeats, and a terminal "complete" message when the producer
//	    ends the stream. The request must explicitly accept
//	    text/event-stream.
//	GET /clock
//	    reports the agent's current time, for clock skew probes.
type AgentServer struct {
	source tcr.Source
	buffer int
	now    func() time.Time
	logger *log.Logger
}

var _ http.Handler = (*AgentServer)(nil)

func NewAgentServer(source tcr.Source) *AgentServer {
	return &AgentServer{
		source: source,
		buffer: DefaultEventBuffer,
		now:    time.Now,
		logger: log.New(io.Discard, "", 0),
	}
}

func (s *AgentServer) SetEventBuffer(buffer int) *AgentServer {
	s.buffer = buffer
	return s
}

func (s *AgentServer) SetNow(now func() time.Time) *AgentServer {
	s.now = now
	return s
}

func (s *AgentServer) SetLogger(logger *log.Logger) *AgentServer {
	s.logger = logger
	return s
}

func (s *AgentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/events":
		s.handleEvents(w, r)
	case "/clock":
		s.handleClock(w, r)
	default:
		http.NotFound(w, r)
	}
}

//
//
//

// initMessage is the first message on every event stream, echoing the
// subscription the server actually created.
type initMessage struct {
	Pattern tcr.Pattern         `json:"pattern"`
	Config  tcr.SubscribeConfig `json:"config"`
	Buffer  int                 `json:"buffer"`
}

// statsMessage is a periodic heartbeat, which also keeps intermediaries
// from timing out an otherwise quiet stream.
type statsMessage struct {
	Sent   int    `json:"sent"`
	Uptime string `json:"uptime"`
}

// completeMessage terminates the stream when the producer ends it.
type completeMessage struct {
	Sent   int    `json:"sent"`
	Reason string `json:"reason"`
}

func (s *AgentServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	if !requestExplicitlyAccepts(r, "text/event-stream") {
		http.Error(w, "request must Accept: text/event-stream", http.StatusPreconditionRequired)
		return
	}

	var (
		ctx      = r.Context()
		query    = r.URL.Query()
		pattern  = tcr.Pattern(query.Get("pattern"))
		buf      = parseRange(query.Get("buf"), strconv.Atoi, 1, s.buffer, 100000)
		interval = parseRange(query.Get("stats"), time.ParseDuration, time.Second, 10*time.Second, time.Minute)
		cfg      = tcr.SubscribeConfig{
			EventBudget: parseRange(query.Get("events"), strconv.Atoi, 0, 0, 10000000),
			TimeBudget:  parseRange(query.Get("within"), time.ParseDuration, 0, 0, 24*time.Hour),
		}
	)

	sub, err := s.source.Subscribe(ctx, pattern, cfg)
	if err != nil {
		err = fmt.Errorf("subscribe: %w", err)
		s.logger.Printf("agent: %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Unsubscribe()

	s.logger.Printf("agent: stream start, pattern %s, events %d, within %s, buf %d", pattern, cfg.EventBudget, cfg.TimeBudget, buf)

	// Re-buffer the producer stream, so that a slow client backs up here
	// rather than in the producer's own (possibly small) send buffer.
	events := make(chan tcr.RawEvent, buf)
	go func() {
		defer close(events)
		for raw := range sub.Events() {
			select {
			case events <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	eventsource.Handler(func(lastId string, encoder *eventsource.Encoder, stop <-chan bool) {
		var (
			start  = s.now()
			ticker = time.NewTicker(interval)
			sent   = 0
		)
		defer ticker.Stop()

		// The init message always comes first, so clients can treat it as
		// the subscribe handshake.
		if err := encodeJSON(encoder, "init", initMessage{
			Pattern: pattern,
			Config:  cfg,
			Buffer:  buf,
		}); err != nil {
			s.logger.Printf("agent: encode init: %v", err)
			return
		}

		for {
			select {
			case raw, ok := <-events:
				if !ok {
					if err := encodeJSON(encoder, "complete", completeMessage{
						Sent:   sent,
						Reason: "producer stream ended",
					}); err != nil {
						s.logger.Printf("agent: encode complete: %v", err)
					}
					s.logger.Printf("agent: stream complete, sent %d", sent)
					return
				}
				data, err := json.Marshal(raw)
				if err != nil {
					s.logger.Printf("agent: marshal event: %v", err)
					continue
				}
				sent++
				if err := encoder.Encode(eventsource.Event{
					Type: "event",
					ID:   strconv.Itoa(sent),
					Data: data,
				}); err != nil {
					s.logger.Printf("agent: encode event: %v", err)
					continue
				}

			case <-ticker.C:
				if err := encodeJSON(encoder, "stats", statsMessage{
					Sent:   sent,
					Uptime: tcrutil.HumanizeDuration(s.now().Sub(start)),
				}); err != nil {
					s.logger.Printf("agent: encode stats: %v", err)
					continue
				}

			case <-ctx.Done():
				s.logger.Printf("agent: stream stop, context done, sent %d", sent)
				return

			case <-stop:
				s.logger.Printf("agent: stream stop, client gone, sent %d", sent)
				return
			}
		}
	}).ServeHTTP(w, r)
}

func encodeJSON(encoder *eventsource.Encoder, messageType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return encoder.Encode(eventsource.Event{
		Type: messageType,
		Data: data,
	})
}

//
//
//

// clockResponse is the payload of GET /clock. Now marshals in RFC3339Nano.
type clockResponse struct {
	Now time.Time `json:"now"`
}

func (s *AgentServer) handleClock(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, clockResponse{Now: s.now().UTC()})
}
