// Package httpserver hosts the Topic Tailer's admin HTTP surface: JSON
// introspection endpoints over GetLogInfo/GetAllLogsInfo/GetStatistics, plus
// an SSE subscribe endpoint for exercising AddSubscriber/RemoveSubscriber
// without a full RPC stack. Grounded on the teacher's
// internal/server/http/server.go mux-plus-handler-methods shape and its
// controllers/sse.go streaming sink pattern.
package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rzbill/tailer/internal/tailer"
)

// TailerAPI is the subset of *tailer.Tailer the HTTP server drives.
type TailerAPI interface {
	Forward(fn func()) bool
	AddSubscriber(ctx context.Context, topic tailer.TopicUUID, seqno tailer.SequenceNumber, sub tailer.CopilotSub) error
	RemoveSubscriber(ctx context.Context, sub tailer.CopilotSub) error
	GetStatistics() tailer.StatsSnapshot
	GetLogInfo(logID tailer.LogID) tailer.LogInfo
	GetAllLogsInfo() []tailer.LogInfo
}

// Server hosts the admin HTTP surface over a Tailer. Its handlers run on
// arbitrary net/http goroutines; every TailerAPI call other than Forward
// and GetStatistics touches room-loop-owned state, so AddSubscriber, RemoveSubscriber, GetLogInfo and GetAllLogsInfo
// are all routed through onRoomLoop rather than called directly.
type Server struct {
	tl         TailerAPI
	dispatcher *Dispatcher
	srv        *http.Server
	lis        net.Listener
	nextStream uint64
}

// New constructs an HTTP server over tl. It does not wire dispatcher into
// the Tailer: subscribe-over-SSE receives deliveries only if the caller
// passed dispatcher.OnMessage as the Tailer's Config.OnMessage when
// building tl. If registry is
// non-nil, its metric families are exposed at /metrics for scraping — the
// same registry passed to tailer.NewStatistics, so /metrics and /v1/stats
// report the same counters through two different faces.
func New(tl TailerAPI, dispatcher *Dispatcher, registry *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	s := &Server{tl: tl, dispatcher: dispatcher, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/logs", s.handleAllLogsInfo)
	mux.HandleFunc("/v1/logs/", s.handleLogInfo)
	mux.HandleFunc("/v1/subscribe", s.handleSubscribeSSE)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close closes the listener without waiting for graceful shutdown.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// onRoomLoop runs fn on the Tailer's room loop and blocks until it
// completes. Returns false if the forward queue is full (ErrNoBuffer-style
// backpressure) or the room loop has stopped.
func (s *Server) onRoomLoop(fn func()) bool {
	done := make(chan struct{})
	if !s.tl.Forward(func() { fn(); close(done) }) {
		return false
	}
	<-done
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(s.tl.GetStatistics())
}

func (s *Server) handleAllLogsInfo(w http.ResponseWriter, _ *http.Request) {
	var infos []tailer.LogInfo
	if !s.onRoomLoop(func() { infos = s.tl.GetAllLogsInfo() }) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	_ = json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleLogInfo(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Path[len("/v1/logs/"):]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var info tailer.LogInfo
	if !s.onRoomLoop(func() { info = s.tl.GetLogInfo(tailer.LogID(id)) }) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	_ = json.NewEncoder(w).Encode(info)
}

type sseEvent struct {
	Kind    string `json:"kind"`
	Topic   string `json:"topic"`
	Prev    uint64 `json:"prev,omitempty"`
	Seqno   uint64 `json:"seqno,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	GapType string `json:"gapType,omitempty"`
	From    uint64 `json:"from,omitempty"`
	To      uint64 `json:"to,omitempty"`
}

func toSSEEvent(msg tailer.OutboundMessage) sseEvent {
	if msg.Kind == tailer.MessageGap {
		return sseEvent{
			Kind:    "gap",
			Topic:   msg.Topic.String(),
			GapType: msg.GapType.String(),
			From:    uint64(msg.From),
			To:      uint64(msg.To),
		}
	}
	return sseEvent{
		Kind:    "deliver",
		Topic:   msg.Topic.String(),
		Prev:    uint64(msg.Prev),
		Seqno:   uint64(msg.Seqno),
		Payload: msg.Payload,
	}
}

func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ns := r.URL.Query().Get("namespace")
	name := r.URL.Query().Get("topic")
	if ns == "" || name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var seqno uint64
	if v := r.URL.Query().Get("seqno"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			seqno = n
		}
	}

	topic := tailer.TopicUUID{Namespace: ns, Name: name}
	sub := tailer.CopilotSub{StreamID: atomic.AddUint64(&s.nextStream, 1), SubID: 1}

	ch := s.dispatcher.Register(sub)
	defer s.dispatcher.Unregister(sub)

	var subErr error
	if !s.onRoomLoop(func() { subErr = s.tl.AddSubscriber(r.Context(), topic, tailer.SequenceNumber(seqno), sub) }) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if subErr != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer func() {
		s.onRoomLoop(func() { _ = s.tl.RemoveSubscriber(context.Background(), sub) })
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(toSSEEvent(msg)); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
