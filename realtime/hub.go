package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultPeerBuffer = 16

// Peer is one open session. Frames queued on it are written by the connection's writer.
type Peer struct {
	owner string
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

// Send returns the outbound queue of the peer.
func (p *Peer) Send() <-chan []byte { return p.send }

// Done is closed when the hub drops the peer.
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) close() {
	p.once.Do(func() { close(p.done) })
}

// Hub tracks the open sessions of every owner.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]map[*Peer]struct{}
	log    *log.Logger
	buffer int

	connections prometheus.Gauge
	dropped     prometheus.Counter
}

// NewHub creates an empty Hub. A nil reg leaves its metrics unregistered.
func NewHub(logger *log.Logger, reg prometheus.Registerer) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	f := promauto.With(reg)
	return &Hub{
		peers:  make(map[string]map[*Peer]struct{}),
		log:    logger,
		buffer: defaultPeerBuffer,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "todo_agent_ws_connections",
			Help: "Open websocket sync sessions.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "todo_agent_ws_dropped_total",
			Help: "Sessions dropped because their send buffer was full.",
		}),
	}
}

// Register adds a session for owner.
func (h *Hub) Register(owner string) *Peer {
	p := &Peer{owner: owner, send: make(chan []byte, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	set, ok := h.peers[owner]
	if !ok {
		set = make(map[*Peer]struct{})
		h.peers[owner] = set
	}
	set[p] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	h.connections.Inc()
	h.log.WithFields(log.Fields{"user": owner, "sessions": total}).Info("websocket connected")
	return p
}

// Unregister removes a session. It is safe to call more than once.
func (h *Hub) Unregister(p *Peer) {
	if h.remove(p) {
		h.log.WithFields(log.Fields{"user": p.owner, "sessions": h.Count(p.owner)}).Info("websocket disconnected")
	}
}

func (h *Hub) remove(p *Peer) bool {
	h.mu.Lock()
	set := h.peers[p.owner]
	_, ok := set[p]
	if ok {
		delete(set, p)
		if len(set) == 0 {
			delete(h.peers, p.owner)
		}
	}
	h.mu.Unlock()
	if ok {
		h.connections.Dec()
		p.close()
	}
	return ok
}

// Broadcast queues data on every session of owner and returns how many accepted it.
// A session whose queue is full is dropped.
func (h *Hub) Broadcast(owner string, data []byte) int {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.peers[owner]))
	for p := range h.peers[owner] {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	sent := 0
	for _, p := range targets {
		select {
		case <-p.done:
		case p.send <- data:
			sent++
		default:
			if h.remove(p) {
				h.dropped.Inc()
				h.log.WithField("user", owner).Warn("dropping slow websocket session")
			}
		}
	}
	return sent
}

// Count returns the number of open sessions of owner.
func (h *Hub) Count(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers[owner])
}

// Total returns the number of open sessions across all owners.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.peers {
		n += len(set)
	}
	return n
}
