// Package rtsp implements the session-control side of a SAT>IP tuner:
// SETUP/PLAY/DESCRIBE/OPTIONS/TEARDOWN over a persistent TCP connection,
// a keep-alive worker, and ownership of the RTP and RTCP listeners that
// receive the tuned stream.
package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/satscan/internal/media"
)

const (
	DefaultPort           = 554
	DefaultRequestTimeout = 5 * time.Second
	userAgent             = "satscan/1.0"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Port           int
	RequestTimeout time.Duration
	// Interface is used for the multicast group join.
	Interface string
	// UsedPorts lists bound local ports when choosing a unicast port pair.
	UsedPorts UsedPortsFunc
	// OnSignal receives signal updates from DESCRIBE and RTCP APP reports.
	OnSignal func(SignalInfo)
	// OnResponse observes every completed request.
	OnResponse func(method string, status StatusCode)
	Logger     *slog.Logger
}

// Session is a snapshot of the negotiated session state.
type Session struct {
	ID           string `json:"id,omitempty"`
	Timeout      int    `json:"timeout"`
	StreamID     string `json:"streamId,omitempty"`
	Mode         Mode   `json:"-"`
	ClientRTP    int    `json:"clientRtp,omitempty"`
	ClientRTCP   int    `json:"clientRtcp,omitempty"`
	ServerRTP    int    `json:"serverRtp,omitempty"`
	ServerRTCP   int    `json:"serverRtcp,omitempty"`
	Destination  string `json:"destination,omitempty"`
	Source       string `json:"source,omitempty"`
	MulticastTTL int    `json:"multicastTtl,omitempty"`
}

// Client controls one tuner. All methods are safe for concurrent use;
// requests are serialized on the control connection.
type Client struct {
	addr string
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	br      *bufio.Reader
	cseq    int
	session Session
	data    *media.DataListener
	control *media.ControlListener
	ka      *keepAlive
}

// NewClient returns a client for the tuner at addr (host or IP, no port).
// No connection is made until the first request.
func NewClient(addr string, opts Options) *Client {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.UsedPorts == nil {
		opts.UsedPorts = SystemUsedPorts
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		addr:    addr,
		opts:    opts,
		log:     log.With("component", "rtsp", "addr", addr),
		session: Session{Timeout: DefaultSessionTimeout},
	}
}

// Session returns a copy of the current session state.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// HasSession reports whether SETUP has succeeded and TEARDOWN has not run.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID != ""
}

func (c *Client) url(path string) string {
	return "rtsp://" + net.JoinHostPort(c.addr, strconv.Itoa(c.opts.Port)) + path
}

func (c *Client) streamURL() string {
	return c.url("/stream=" + c.session.StreamID)
}

// Setup tunes the server with query and negotiates the transport. A
// session that already exists is refreshed with its Session header. On
// success the keep-alive worker and both listeners are running.
func (c *Client) Setup(ctx context.Context, query string, mode Mode) (StatusCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := newRequest("SETUP", c.url("/?"+query))
	if c.session.ID != "" {
		req.set("Session", c.session.ID)
	}
	switch mode {
	case Multicast:
		req.set("Transport", "RTP/AVP;multicast")
	default:
		if c.session.ClientRTP == 0 {
			rtp, rtcp, err := FreePortPair(ctx, c.opts.UsedPorts)
			if err != nil {
				return 0, err
			}
			c.session.ClientRTP, c.session.ClientRTCP = rtp, rtcp
		}
		req.set("Transport", fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", c.session.ClientRTP, c.session.ClientRTCP))
	}

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return 0, err
	}
	if !resp.status.OK() {
		return resp.status, &ProtocolError{Method: req.method, Status: resp.status}
	}

	streamID := resp.header.Get("com.ses.streamID")
	if streamID == "" {
		return resp.status, &ProtocolError{Method: req.method, Status: resp.status, Header: "com.ses.streamID"}
	}
	sess := resp.header.Get("Session")
	if sess == "" {
		return resp.status, &ProtocolError{Method: req.method, Status: resp.status, Header: "Session"}
	}
	id, timeout, err := parseSession(sess)
	if err != nil {
		return resp.status, err
	}

	next := c.session
	next.ID, next.Timeout, next.StreamID, next.Mode = id, timeout, streamID, mode
	if th := resp.header.Get("Transport"); th != "" {
		t, err := parseTransport(th)
		if err != nil {
			return resp.status, err
		}
		if t.clientRTP != 0 {
			next.ClientRTP, next.ClientRTCP = t.clientRTP, t.clientRTCP
		}
		next.ServerRTP, next.ServerRTCP = t.serverRTP, t.serverRTCP
		next.Destination, next.Source, next.MulticastTTL = t.destination, t.source, t.multicastTTL
	} else {
		c.log.Warn("SETUP response has no Transport header")
	}
	c.session = next
	c.log.Info("session established", "session", id, "stream", streamID, "timeout", timeout,
		"rtp", next.ClientRTP, "rtcp", next.ClientRTCP, "mode", mode.String())

	c.startKeepAlive()
	if err := c.openListeners(ctx); err != nil {
		return resp.status, err
	}
	return resp.status, nil
}

// openListeners starts whichever listener is not yet running. Caller
// holds c.mu.
func (c *Client) openListeners(ctx context.Context) error {
	cfg := media.Config{Interface: c.opts.Interface, Logger: c.log}
	if c.session.Mode == Multicast {
		cfg.Group = net.ParseIP(c.session.Destination)
	}
	if c.control == nil {
		cfg.Port = c.session.ClientRTCP
		l, err := media.ListenControl(ctx, cfg, c.onControl)
		if err != nil {
			return &TransportError{Op: "listen rtcp", Err: err}
		}
		c.control = l
	}
	if c.data == nil {
		cfg.Port = c.session.ClientRTP
		l, err := media.ListenData(ctx, cfg)
		if err != nil {
			return &TransportError{Op: "listen rtp", Err: err}
		}
		c.data = l
	}
	return nil
}

// Play starts or changes the stream. query may carry a leading '&' as
// used for incremental addpids/delpids requests.
func (c *Client) Play(ctx context.Context, query string) (StatusCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ID == "" {
		return 0, ErrNoSession
	}
	uri := c.streamURL()
	if q := strings.TrimLeft(query, "&"); q != "" {
		uri += "?" + q
	}
	req := newRequest("PLAY", uri)
	req.set("Session", c.session.ID)

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return 0, err
	}
	c.refreshSession(resp, req.method)
	if resp.header.Get("RTP-Info") == "" {
		c.log.Debug("PLAY response has no RTP-Info header")
	}
	if !resp.status.OK() {
		c.checkExpired(resp.status, req.method)
		return resp.status, &ProtocolError{Method: req.method, Status: resp.status}
	}
	return resp.status, nil
}

// Describe requests the SDP description of the stream and reports the
// signal it carries through OnSignal. A response without a recognizable
// signal reports an unlocked tuner.
func (c *Client) Describe(ctx context.Context) (StatusCode, error) {
	status, info, err := c.describe(ctx)
	if err == nil || status != 0 {
		c.emitSignal(info)
	}
	return status, err
}

func (c *Client) describe(ctx context.Context) (StatusCode, SignalInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uri := c.url("/")
	if c.session.ID != "" {
		uri = c.streamURL()
	}
	req := newRequest("DESCRIBE", uri)
	req.set("Accept", "application/sdp")
	if c.session.ID != "" {
		req.set("Session", c.session.ID)
	}

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return 0, SignalInfo{}, err
	}
	c.refreshSession(resp, req.method)
	if !resp.status.OK() {
		c.checkExpired(resp.status, req.method)
		return resp.status, SignalInfo{}, &ProtocolError{Method: req.method, Status: resp.status}
	}
	return resp.status, signalFromDescribe(resp.body), nil
}

// Options probes the server. Once a session exists it also refreshes it.
func (c *Client) Options(ctx context.Context) (StatusCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := newRequest("OPTIONS", c.url("/"))
	if c.session.ID != "" {
		req.set("Session", c.session.ID)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return 0, err
	}
	c.refreshSession(resp, req.method)
	if resp.header.Get("Public") == "" {
		c.log.Debug("OPTIONS response has no Public header")
	}
	if !resp.status.OK() {
		c.checkExpired(resp.status, req.method)
		return resp.status, &ProtocolError{Method: req.method, Status: resp.status}
	}
	return resp.status, nil
}

// refreshSession applies a Session header from a non-SETUP response.
// Caller holds c.mu.
func (c *Client) refreshSession(resp *response, method string) {
	v := resp.header.Get("Session")
	if v == "" || c.session.ID == "" {
		return
	}
	id, timeout, err := parseSession(v)
	if err != nil {
		c.log.Warn("ignoring malformed Session header", "method", method, "error", err)
		return
	}
	if id != c.session.ID {
		c.log.Warn("server changed session id", "method", method, "old", c.session.ID, "new", id)
	}
	c.session.ID, c.session.Timeout = id, timeout
}

// checkExpired forgets the session when the server reports it unknown,
// so the next SETUP starts a new one. The listeners are closed here; the
// keep-alive worker is stopped on another goroutine since it may be the
// caller. Caller holds c.mu.
func (c *Client) checkExpired(status StatusCode, method string) {
	if status != StatusSessionNotFound || c.session.ID == "" {
		return
	}
	c.log.Warn("server no longer knows the session", "method", method, "session", c.session.ID)

	ka, ttl := c.ka, c.session.Timeout
	data, control := c.data, c.control
	c.ka, c.data, c.control = nil, nil, nil
	c.session = Session{Timeout: DefaultSessionTimeout}

	if data != nil {
		data.Close()
	}
	if control != nil {
		control.Close()
	}
	if ka != nil {
		go c.stopKeepAlive(ka, ttl)
	}
}

// TearDown ends the session: it sends TEARDOWN when a session exists,
// stops the keep-alive worker, closes both listeners and the control
// connection and clears the session state. Calling it again is a no-op
// that returns StatusOK.
func (c *Client) TearDown(ctx context.Context) (StatusCode, error) {
	c.mu.Lock()
	ka, ttl := c.ka, c.session.Timeout
	c.ka = nil
	c.mu.Unlock()

	// The keep-alive worker takes c.mu, so it is stopped first.
	c.stopKeepAlive(ka, ttl)

	c.mu.Lock()
	status, err := StatusOK, error(nil)
	if c.session.ID != "" {
		req := newRequest("TEARDOWN", c.streamURL())
		req.set("Session", c.session.ID)
		resp, rerr := c.roundTrip(ctx, req)
		switch {
		case rerr != nil:
			status, err = 0, rerr
		case !resp.status.OK():
			status, err = resp.status, &ProtocolError{Method: req.method, Status: resp.status}
		default:
			status = resp.status
		}
		c.log.Info("session closed", "session", c.session.ID, "status", int(status))
	}
	data, control := c.data, c.control
	c.data, c.control = nil, nil
	c.closeConn()
	c.session = Session{Timeout: DefaultSessionTimeout}
	c.mu.Unlock()

	if data != nil {
		data.Close()
	}
	if control != nil {
		control.Close()
	}
	return status, err
}

// ReadFrame returns the next transport stream frame of the session.
func (c *Client) ReadFrame(ctx context.Context) (*media.Frame, error) {
	c.mu.Lock()
	data := c.data
	c.mu.Unlock()
	if data == nil {
		return nil, ErrNoSession
	}
	f, err := data.ReadFrame(ctx)
	if errors.Is(err, media.ErrClosed) {
		return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	return f, err
}

// DataStats returns the data listener counters, or zero without a session.
func (c *Client) DataStats() media.Stats {
	c.mu.Lock()
	data := c.data
	c.mu.Unlock()
	if data == nil {
		return media.Stats{}
	}
	return data.Stats()
}

func (c *Client) onControl(ev media.ControlEvent) {
	switch ev.Kind {
	case media.KindApp:
		if info, ok := ParseSignal(ev.Text); ok {
			c.emitSignal(info)
		}
	case media.KindBye:
		c.log.Info("server ended the session", "ssrc", ev.SSRC, "reason", ev.Text)
		// TearDown closes this listener and waits for its loop.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
			defer cancel()
			if _, err := c.TearDown(ctx); err != nil {
				c.log.Warn("teardown after BYE failed", "error", err)
			}
		}()
	}
}

func (c *Client) emitSignal(info SignalInfo) {
	if c.opts.OnSignal != nil {
		c.opts.OnSignal(info)
	}
}

// roundTrip sends req and reads its response, connecting first if
// needed. The exchange is bounded by RequestTimeout and by ctx. A
// transport failure drops the connection so the next request reconnects.
// Caller holds c.mu.
func (c *Client) roundTrip(ctx context.Context, req *request) (*response, error) {
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	c.cseq++
	cseq := c.cseq
	req.headers = append([]header{{"CSeq", strconv.Itoa(cseq)}}, req.headers...)
	req.set("User-Agent", userAgent)

	deadline := time.Now().Add(c.opts.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn := c.conn
	if err := conn.SetDeadline(deadline); err != nil {
		c.closeConn()
		return nil, &TransportError{Op: "set deadline", Err: err}
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	c.log.Debug("request", "method", req.method, "uri", req.uri, "cseq", cseq)
	if _, err := conn.Write(req.marshal()); err != nil {
		c.closeConn()
		return nil, &TransportError{Op: "send " + req.method, Err: ctxErr(ctx, err)}
	}
	resp, err := readResponse(c.br)
	if err != nil {
		c.closeConn()
		var fe *FormatError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &TransportError{Op: "receive " + req.method, Err: ctxErr(ctx, err)}
	}
	if got := resp.header.Get("CSeq"); got != "" && got != strconv.Itoa(cseq) {
		c.log.Warn("CSeq mismatch", "method", req.method, "sent", cseq, "got", got)
	}
	c.log.Debug("response", "method", req.method, "status", int(resp.status), "reason", resp.reason)

	if c.opts.OnResponse != nil {
		c.opts.OnResponse(req.method, resp.status)
	}
	return resp, nil
}

// ctxErr prefers the context's error when it caused err.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.opts.RequestTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.addr, strconv.Itoa(c.opts.Port)))
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.log.Debug("connected")
	return nil
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.br = nil
}
