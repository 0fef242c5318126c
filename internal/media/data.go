package media

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// readPoll bounds each socket read so cancellation is noticed between
// datagrams.
const readPoll = 250 * time.Millisecond

const maxDatagram = 65535

// Stats captures data-channel counters for the status API.
type Stats struct {
	Datagrams int64 `json:"datagrams"`
	Bytes     int64 `json:"bytes"`
	Dropped   int64 `json:"dropped"`
	UptimeMs  int64 `json:"uptimeMs"`
}

// DataListener receives RTP datagrams on the session's data port and
// yields those carrying a transport stream.
type DataListener struct {
	conn      *net.UDPConn
	log       *slog.Logger
	buf       []byte
	startedAt time.Time

	mu        sync.Mutex // serializes ReadFrame
	closeOnce sync.Once
	closed    atomic.Bool

	datagrams atomic.Int64
	bytes     atomic.Int64
	dropped   atomic.Int64
}

// ListenData opens the data socket.
func ListenData(ctx context.Context, cfg Config) (*DataListener, error) {
	log := cfg.logger().With("component", "rtp-listener", "port", cfg.Port)
	conn, err := listenUDP(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Debug("data listener started")
	return &DataListener{
		conn:      conn,
		log:       log,
		buf:       make([]byte, maxDatagram),
		startedAt: time.Now(),
	}, nil
}

// LocalPort returns the bound UDP port.
func (l *DataListener) LocalPort() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// ReadFrame blocks until a transport stream datagram arrives, ctx is done
// or the listener is closed. Datagrams that are not valid RTP or carry
// another payload type are counted as dropped and skipped.
func (l *DataListener) ReadFrame(ctx context.Context) (*Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.closed.Load() {
			return nil, ErrClosed
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			if l.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
		n, _, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, err
		}
		l.datagrams.Add(1)
		l.bytes.Add(int64(n))

		raw := make([]byte, n)
		copy(raw, l.buf[:n])

		var pkt rtp.Packet
		if err := pkt.Unmarshal(raw); err != nil {
			l.dropped.Add(1)
			l.log.Debug("dropping invalid RTP datagram", "size", n, "error", err)
			continue
		}
		if pkt.PayloadType != PayloadTypeMP2T {
			l.dropped.Add(1)
			continue
		}

		return &Frame{
			SequenceNumber: pkt.SequenceNumber,
			Timestamp:      pkt.Timestamp,
			SSRC:           pkt.SSRC,
			PayloadType:    pkt.PayloadType,
			Marker:         pkt.Marker,
			Payload:        pkt.Payload,
			Raw:            raw,
		}, nil
	}
}

// Stats returns a snapshot of the listener counters.
func (l *DataListener) Stats() Stats {
	return Stats{
		Datagrams: l.datagrams.Load(),
		Bytes:     l.bytes.Load(),
		Dropped:   l.dropped.Load(),
		UptimeMs:  time.Since(l.startedAt).Milliseconds(),
	}
}

// Close releases the socket. A blocked ReadFrame returns ErrClosed. Safe
// to call more than once.
func (l *DataListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.conn.Close()
		st := l.Stats()
		l.log.Debug("data listener stopped", "datagrams", st.Datagrams, "dropped", st.Dropped)
	})
	return err
}
