package httpserver

import (
	"sync"

	"github.com/rzbill/tailer/internal/tailer"
)

// Dispatcher fans Tailer deliveries out to per-connection channels, since
// Tailer.Config.OnMessage is a single global callback and the admin SSE
// endpoint needs one inbox per subscriber. OnMessage runs on the Tailer's
// room loop; Register/Unregister run on whatever goroutine is handling the
// HTTP request, so all access goes through mu.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[tailer.CopilotSub]chan tailer.OutboundMessage
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[tailer.CopilotSub]chan tailer.OutboundMessage)}
}

// Register opens an inbox for sub and returns it. The caller must Unregister
// once done, and must not be re-registered for a sub already registered.
func (d *Dispatcher) Register(sub tailer.CopilotSub) chan tailer.OutboundMessage {
	ch := make(chan tailer.OutboundMessage, 64)
	d.mu.Lock()
	d.subs[sub] = ch
	d.mu.Unlock()
	return ch
}

// Unregister closes sub's inbox. Safe to call even if sub was never
// registered.
func (d *Dispatcher) Unregister(sub tailer.CopilotSub) {
	d.mu.Lock()
	ch, ok := d.subs[sub]
	if ok {
		delete(d.subs, sub)
	}
	d.mu.Unlock()
	if ok {
		close(ch)
	}
}

// OnMessage implements the Tailer's Config.OnMessage signature. A recipient
// with a full inbox drops the message rather than blocking the room loop;
// the SSE client is expected to resubscribe from its last seqno on gap.
func (d *Dispatcher) OnMessage(msg tailer.OutboundMessage, recipients []tailer.CopilotSub) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range recipients {
		ch, ok := d.subs[r]
		if !ok {
			continue
		}
		select {
		case ch <- msg:
		default:
		}
	}
}
