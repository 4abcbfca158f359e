package source

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// maxDatagram fits a full 33-point frame with generous float precision.
const maxDatagram = 8192

// UDPConfig contains configuration options for the UDP source.
type UDPConfig struct {
	Address    string
	RcvBuf     int
	StaleAfter time.Duration
	Clock      timeutil.Clock
}

// UDP receives one JSON frame per datagram from a pose estimator running
// as a separate process.
type UDP struct {
	*Latest
	address string
	rcvBuf  int

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	done   chan struct{}

	packets    atomic.Uint64
	readErrors atomic.Uint64
}

// NewUDP creates a UDP source; it does not listen until Initialize.
func NewUDP(cfg UDPConfig) *UDP {
	return &UDP{
		Latest:  NewLatest(cfg.StaleAfter, cfg.Clock),
		address: cfg.Address,
		rcvBuf:  cfg.RcvBuf,
	}
}

// Initialize binds the socket and starts the read loop. Calling it again
// while listening only updates the options.
func (u *UDP) Initialize(ctx context.Context, opts loop.SourceOptions) error {
	if err := u.Latest.Initialize(ctx, opts); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", u.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if u.rcvBuf > 0 {
		if err := conn.SetReadBuffer(u.rcvBuf); err != nil {
			logf("Warning: failed to set UDP receive buffer size to %d: %v", u.rcvBuf, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	u.conn = conn
	u.cancel = cancel
	u.done = make(chan struct{})
	go u.run(runCtx, conn, u.done)

	logf("UDP source listening on %s", conn.LocalAddr())
	return nil
}

func (u *UDP) run(ctx context.Context, conn *net.UDPConn, done chan struct{}) {
	defer close(done)
	buffer := make([]byte, maxDatagram)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// deadline lets the loop notice cancellation
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			u.readErrors.Add(1)
			logf("UDP read error: %v", err)
			continue
		}

		u.packets.Add(1)
		if err := u.Ingest(buffer[:n]); err != nil {
			logf("Error handling frame from %v: %v", from, err)
		}
	}
}

// Addr returns the bound address, or nil before Initialize.
func (u *UDP) Addr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Packets returns the number of datagrams received.
func (u *UDP) Packets() uint64 { return u.packets.Load() }

// Close stops the read loop and releases the socket.
func (u *UDP) Close() error {
	u.mu.Lock()
	conn, cancel, done := u.conn, u.cancel, u.done
	u.conn, u.cancel, u.done = nil, nil, nil
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	<-done
	return err
}
