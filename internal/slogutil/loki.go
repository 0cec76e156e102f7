package slogutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tangle/internal/config"
)

const (
	defaultLokiBatch = 100
	defaultLokiFlush = 5 * time.Second
	lokiPushPath     = "/loki/api/v1/push"
)

// LokiHandler batches records and pushes them to a Loki endpoint, one
// stream per level. Derived handlers share the parent's batch.
type LokiHandler struct {
	sink  *lokiSink
	level slog.Level
	scope scope
}

type lokiSink struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client

	mu      sync.Mutex
	buffer  []lokiEntry
	kick    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

type lokiEntry struct {
	timestamp time.Time
	line      string
	level     string
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiHandler creates a handler for cfg. Labels from cfg win over
// baseLabels; host is added when neither sets it.
func NewLokiHandler(cfg *config.RemoteLogConfig, baseLabels map[string]string, level slog.Level) (*LokiHandler, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki endpoint is required")
	}

	labels := make(map[string]string, len(baseLabels)+len(cfg.Labels)+1)
	for k, v := range baseLabels {
		labels[k] = v
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["host"]; !ok {
		if hostname, err := os.Hostname(); err == nil {
			labels["host"] = hostname
		}
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultLokiBatch
	}
	flush := defaultLokiFlush
	if cfg.FlushInterval != "" {
		if d, err := time.ParseDuration(cfg.FlushInterval); err == nil && d > 0 {
			flush = d
		}
	}

	return &LokiHandler{
		sink: &lokiSink{
			endpoint:      strings.TrimSuffix(cfg.Endpoint, "/") + lokiPushPath,
			labels:        labels,
			batchSize:     batch,
			flushInterval: flush,
			client:        &http.Client{Timeout: 10 * time.Second},
			buffer:        make([]lokiEntry, 0, batch),
			kick:          make(chan struct{}, 1),
			done:          make(chan struct{}),
		},
		level: level,
	}, nil
}

// Start runs the background flusher. Without it records are only sent by Stop.
func (h *LokiHandler) Start() {
	s := h.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the flusher and sends whatever is still buffered. It is safe to
// call more than once.
func (h *LokiHandler) Stop() error {
	s := h.sink
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.flush(context.Background())
}

// Close is Stop, so the handler can be returned as an io.Closer.
func (h *LokiHandler) Close() error {
	return h.Stop()
}

func (h *LokiHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *LokiHandler) Handle(_ context.Context, r slog.Record) error {
	entry := lokiEntry{
		timestamp: r.Time,
		line:      h.format(r),
		level:     levelString(r.Level),
	}

	s := h.sink
	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (h *LokiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LokiHandler{sink: h.sink, level: h.level, scope: h.scope.withAttrs(attrs)}
}

func (h *LokiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LokiHandler{sink: h.sink, level: h.level, scope: h.scope.withGroup(name)}
}

// format renders msg=... key=value pairs in logfmt so Loki's logfmt parser
// can extract fields.
func (h *LokiHandler) format(r slog.Record) string {
	var buf bytes.Buffer
	buf.WriteString("msg=")
	buf.WriteString(strconv.Quote(r.Message))
	h.scope.writePairs(&buf, r)
	return buf.String()
}

func (s *lokiSink) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.flush(context.Background())
		case <-s.kick:
			_ = s.flush(context.Background())
		case <-s.done:
			return
		}
	}
}

// flush sends the buffered entries. The buffer is swapped out under the lock
// so Handle never waits on the network.
func (s *lokiSink) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	entries := s.buffer
	s.buffer = make([]lokiEntry, 0, s.batchSize)
	s.mu.Unlock()

	return s.send(ctx, s.request(entries))
}

func (s *lokiSink) request(entries []lokiEntry) lokiPushRequest {
	byLevel := make(map[string][]lokiEntry)
	var levels []string
	for _, e := range entries {
		if _, ok := byLevel[e.level]; !ok {
			levels = append(levels, e.level)
		}
		byLevel[e.level] = append(byLevel[e.level], e)
	}

	req := lokiPushRequest{Streams: make([]lokiStream, 0, len(levels))}
	for _, level := range levels {
		labels := make(map[string]string, len(s.labels)+1)
		for k, v := range s.labels {
			labels[k] = v
		}
		labels["level"] = level

		group := byLevel[level]
		values := make([][]string, len(group))
		for i, e := range group {
			values[i] = []string{strconv.FormatInt(e.timestamp.UnixNano(), 10), e.line}
		}
		req.Streams = append(req.Streams, lokiStream{Stream: labels, Values: values})
	}
	return req
}

func (s *lokiSink) send(ctx context.Context, req lokiPushRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki push returned %s", resp.Status)
	}
	return nil
}
