package media

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"

	"github.com/zsiec/satscan/internal/wire"
)

// ControlKind identifies the RTCP packets the scanner acts on.
type ControlKind int

const (
	// KindApp is an application-defined report carrying the tuner status
	// string ("ver=1.0;src=1;tuner=1,240,1,15,...").
	KindApp ControlKind = iota
	// KindBye signals that the server ended the session.
	KindBye
	// KindSenderReport is an RTP sender report.
	KindSenderReport
)

func (k ControlKind) String() string {
	switch k {
	case KindApp:
		return "app"
	case KindBye:
		return "bye"
	case KindSenderReport:
		return "sender-report"
	default:
		return "unknown"
	}
}

// ControlEvent is one dispatched RTCP packet.
type ControlEvent struct {
	Kind ControlKind
	SSRC uint32
	// Name is the four-character name of an APP packet.
	Name string
	// Text is the status string of an APP packet or the reason of a BYE.
	Text string
	// Sent is the wallclock time of a sender report.
	Sent        time.Time
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
}

const closeWait = 2 * time.Second

// ControlHandler receives events on the listener goroutine.
type ControlHandler func(ControlEvent)

// ControlListener receives RTCP compound packets on the session's control
// port and dispatches them to a handler.
type ControlListener struct {
	conn *net.UDPConn
	log  *slog.Logger

	mu      sync.Mutex
	handler ControlHandler

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
	packets   atomic.Int64
}

// ListenControl opens the control socket and starts the receive loop.
func ListenControl(ctx context.Context, cfg Config, handler ControlHandler) (*ControlListener, error) {
	log := cfg.logger().With("component", "rtcp-listener", "port", cfg.Port)
	conn, err := listenUDP(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	l := &ControlListener{
		conn:    conn,
		log:     log,
		handler: handler,
		done:    make(chan struct{}),
	}
	go l.receiveLoop()
	log.Debug("control listener started")
	return l, nil
}

// LocalPort returns the bound UDP port.
func (l *ControlListener) LocalPort() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Packets returns the number of RTCP packets dispatched so far.
func (l *ControlListener) Packets() int64 {
	return l.packets.Load()
}

func (l *ControlListener) receiveLoop() {
	defer close(l.done)
	buf := make([]byte, maxDatagram)
	for {
		if l.closed.Load() {
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(readPoll))
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("control read failed", "error", err)
			continue
		}
		l.dispatchCompound(buf[:n])
	}
}

// dispatchCompound walks a compound packet by its length fields. A packet
// that fails to decode is skipped; the walk stops only when a header
// cannot be read or its length overruns the datagram.
func (l *ControlListener) dispatchCompound(b []byte) {
	for len(b) >= 4 {
		var h rtcp.Header
		if err := h.Unmarshal(b); err != nil {
			l.log.Debug("invalid RTCP header", "error", err)
			return
		}
		size := int(h.Length+1) * 4
		if size > len(b) {
			l.log.Debug("RTCP packet overruns datagram", "length", size, "remaining", len(b))
			return
		}
		if ev, ok := l.decode(h.Type, b[:size]); ok {
			l.packets.Add(1)
			l.emit(ev)
		}
		b = b[size:]
	}
}

func (l *ControlListener) decode(typ rtcp.PacketType, pkt []byte) (ControlEvent, bool) {
	switch typ {
	case rtcp.TypeApplicationDefined:
		var app rtcp.ApplicationDefined
		if err := app.Unmarshal(pkt); err != nil {
			l.log.Debug("skipping malformed APP packet", "error", err)
			return ControlEvent{}, false
		}
		return ControlEvent{Kind: KindApp, SSRC: app.SSRC, Name: app.Name, Text: appText(app.Data)}, true

	case rtcp.TypeGoodbye:
		var bye rtcp.Goodbye
		if err := bye.Unmarshal(pkt); err != nil {
			l.log.Debug("skipping malformed BYE packet", "error", err)
			return ControlEvent{}, false
		}
		ev := ControlEvent{Kind: KindBye, Text: bye.Reason}
		if len(bye.Sources) > 0 {
			ev.SSRC = bye.Sources[0]
		}
		return ev, true

	case rtcp.TypeSenderReport:
		var sr rtcp.SenderReport
		if err := sr.Unmarshal(pkt); err != nil {
			l.log.Debug("skipping malformed sender report", "error", err)
			return ControlEvent{}, false
		}
		sent := wire.NTPToTime(sr.NTPTime)
		l.log.Debug("sender report", "ssrc", sr.SSRC, "sent", sent, "packets", sr.PacketCount)
		return ControlEvent{
			Kind:        KindSenderReport,
			SSRC:        sr.SSRC,
			Sent:        sent,
			RTPTime:     sr.RTPTime,
			PacketCount: sr.PacketCount,
			OctetCount:  sr.OctetCount,
		}, true
	}
	return ControlEvent{}, false
}

// appText extracts the status string from APP data laid out as
// identifier(16) length(16) string. Data without that prefix is taken
// as the string itself.
func appText(data []byte) string {
	if len(data) >= 4 {
		n := int(wire.Uint16(data, 2))
		if n <= len(data)-4 {
			return wire.String(data, 4, n)
		}
	}
	return string(bytes.TrimRight(data, "\x00"))
}

func (l *ControlListener) emit(ev ControlEvent) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Close detaches the handler, stops the receive loop and waits a bounded
// time for it to exit. Safe to call more than once.
func (l *ControlListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.handler = nil
		l.mu.Unlock()
		l.closed.Store(true)
		err = l.conn.Close()

		select {
		case <-l.done:
		case <-time.After(closeWait):
			l.log.Warn("control listener did not stop in time")
		}
		l.log.Debug("control listener stopped", "packets", l.packets.Load())
	})
	return err
}
