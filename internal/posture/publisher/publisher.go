// Package publisher fans forwarded posture analyses out to live
// subscribers and serves them over gRPC.
package publisher

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/detector"
)

var logf = monitoring.Prefixed("publisher")

// ErrTooManyClients is returned by Subscribe once MaxClients are connected.
var ErrTooManyClients = errors.New("too many subscribers")

// Config holds configuration for the publisher and its gRPC server.
type Config struct {
	// ListenAddr is the gRPC address (e.g. "localhost:50061")
	ListenAddr string

	// MaxClients caps concurrent subscribers; 0 means unlimited
	MaxClients int

	// ClientBuffer is the per-subscriber queue length
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 16,
	}
}

// Stats summarises publisher activity.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int32  `json:"clients"`
}

// Publisher distributes analyses to subscribers without ever blocking the
// detection loop. It implements loop.Sink.
type Publisher struct {
	config Config

	clients   map[string]chan detector.Analysis
	clientsMu sync.RWMutex

	lastMu  sync.RWMutex
	last    detector.Analysis
	hasLast bool

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]chan detector.Analysis),
	}
}

// Publish sends a to every subscriber. Subscribers whose queue is full miss
// the analysis and the drop is counted.
func (p *Publisher) Publish(a detector.Analysis) {
	p.lastMu.Lock()
	p.last, p.hasLast = a, true
	p.lastMu.Unlock()
	p.published.Add(1)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for id, ch := range p.clients {
		select {
		case ch <- a:
		default:
			dropped := p.dropped.Add(1)
			logf("DROPPED analysis for slow subscriber %s (total dropped: %d)", id, dropped)
		}
	}
}

// Last returns the most recently published analysis.
func (p *Publisher) Last() (detector.Analysis, bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last, p.hasLast
}

// Subscribe registers a new subscriber. The current analysis, if any, is
// queued first so a new client starts with the present state.
func (p *Publisher) Subscribe() (string, <-chan detector.Analysis, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return "", nil, fmt.Errorf("%w: limit is %d", ErrTooManyClients, p.config.MaxClients)
	}

	id := uuid.NewString()
	ch := make(chan detector.Analysis, p.config.ClientBuffer)
	if last, ok := p.Last(); ok {
		ch <- last
	}
	p.clients[id] = ch
	n := p.clientCount.Add(1)
	logf("Subscriber connected: %s (total: %d)", id, n)
	return id, ch, nil
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored.
func (p *Publisher) Unsubscribe(id string) {
	p.clientsMu.Lock()
	ch, ok := p.clients[id]
	if ok {
		delete(p.clients, id)
		close(ch)
	}
	p.clientsMu.Unlock()

	if ok {
		n := p.clientCount.Add(-1)
		logf("Subscriber disconnected: %s (remaining: %d)", id, n)
	}
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   p.clientCount.Load(),
	}
}

// Start listens on the configured address and serves the posture gRPC
// service backed by ctrl.
func (p *Publisher) Start(ctrl Controller) error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis, ctrl)
}

// Serve runs the gRPC service on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener, ctrl Controller) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}

	p.listener = lis
	p.server = grpc.NewServer()
	RegisterPostureServiceServer(p.server, NewServer(p, ctrl))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the gRPC server down and disconnects every subscriber.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	// streams only end once their channels close
	p.clientsMu.Lock()
	for id, ch := range p.clients {
		close(ch)
		delete(p.clients, id)
		p.clientCount.Add(-1)
	}
	p.clientsMu.Unlock()

	p.server.GracefulStop()
	p.wg.Wait()
	logf("gRPC server stopped")
}
