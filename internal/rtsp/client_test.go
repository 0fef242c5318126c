package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

type fakeRequest struct {
	method string
	uri    string
	header textproto.MIMEHeader
}

type fakeResponse struct {
	status  int
	headers map[string]string
	body    string
	// hang suppresses the response.
	hang bool
}

type fakeServer struct {
	ln     net.Listener
	handle func(fakeRequest) fakeResponse

	mu    sync.Mutex
	reqs  []fakeRequest
	conns int
}

func newFakeServer(t *testing.T, handle func(fakeRequest) fakeResponse) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{ln: ln, handle: handle}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *fakeServer) serveConn(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewReader(bufio.NewReader(conn))
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) != 3 {
			return
		}
		req := fakeRequest{method: parts[0], uri: parts[1], header: hdr}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()

		resp := s.handle(req)
		if resp.hang {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", resp.status, StatusCode(resp.status))
		fmt.Fprintf(&b, "CSeq: %s\r\n", hdr.Get("CSeq"))
		for k, v := range resp.headers {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
		if resp.body != "" {
			fmt.Fprintf(&b, "Content-Type: application/sdp\r\nContent-Length: %d\r\n", len(resp.body))
		}
		b.WriteString("\r\n")
		b.WriteString(resp.body)
		if _, err := conn.Write([]byte(b.String())); err != nil {
			return
		}
	}
}

func (s *fakeServer) requests() []fakeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeRequest(nil), s.reqs...)
}

func (s *fakeServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeServer) methods() []string {
	var out []string
	for _, r := range s.requests() {
		out = append(out, r.method)
	}
	return out
}

// usedBelow marks every port from 40000 up to first as taken so parallel
// tests bind distinct pairs.
func usedBelow(first int) UsedPortsFunc {
	return func(context.Context) (map[int]bool, error) {
		used := make(map[int]bool)
		for p := firstClientPort; p < first; p++ {
			used[p] = true
		}
		return used, nil
	}
}

const describeSDP = "v=0\r\n" +
	"o=- 1378633020884883 1 IN IP4 192.168.2.108\r\n" +
	"s=SatIPServer:1 4\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 33\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=control:stream=7\r\n" +
	"a=fmtp:33 ver=1.0;src=1;tuner=1,255,1,15,11727.00,h,dvbs2,8psk,on,0.35,27500,23;pids=0\r\n" +
	"a=sendonly\r\n"

// satipServer answers like a tuner: SETUP echoes the client ports and
// hands out session 12345678 / stream 7.
func satipServer(t *testing.T, timeout int) *fakeServer {
	return newFakeServer(t, satipHandler(timeout))
}

func satipHandler(timeout int) func(fakeRequest) fakeResponse {
	return func(r fakeRequest) fakeResponse {
		switch r.method {
		case "SETUP":
			tr := r.header.Get("Transport") + ";server_port=6970-6971"
			return fakeResponse{status: 200, headers: map[string]string{
				"Session":          fmt.Sprintf("12345678;timeout=%d", timeout),
				"Transport":        tr,
				"com.ses.streamID": "7",
			}}
		case "PLAY":
			return fakeResponse{status: 200, headers: map[string]string{
				"Session":  fmt.Sprintf("12345678;timeout=%d", timeout),
				"RTP-Info": "url=rtsp://127.0.0.1/stream=7;seq=0",
			}}
		case "DESCRIBE":
			return fakeResponse{status: 200, headers: map[string]string{"Session": "12345678"}, body: describeSDP}
		case "OPTIONS":
			return fakeResponse{status: 200, headers: map[string]string{"Public": "OPTIONS, SETUP, PLAY, TEARDOWN, DESCRIBE"}}
		default:
			return fakeResponse{status: 200}
		}
	}
}

func TestClient_Lifecycle(t *testing.T) {
	t.Parallel()
	srv := satipServer(t, 60)

	var (
		sigMu   sync.Mutex
		signals []SignalInfo
	)
	var responses []string
	c := NewClient("127.0.0.1", Options{
		Port:      srv.port(),
		UsedPorts: usedBelow(41000),
		OnSignal: func(s SignalInfo) {
			sigMu.Lock()
			signals = append(signals, s)
			sigMu.Unlock()
		},
		OnResponse: func(method string, status StatusCode) {
			responses = append(responses, fmt.Sprintf("%s %d", method, status))
		},
	})
	ctx := context.Background()

	if _, err := c.Play(ctx, "addpids=0"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Play before Setup err = %v, want ErrNoSession", err)
	}

	status, err := c.Setup(ctx, "src=1&freq=11727&pol=h", Unicast)
	if err != nil || status != StatusOK {
		t.Fatalf("Setup = %d, %v", status, err)
	}
	sess := c.Session()
	if sess.ID != "12345678" || sess.Timeout != 60 || sess.StreamID != "7" {
		t.Errorf("session = %+v", sess)
	}
	if sess.ClientRTP != 41000 || sess.ClientRTCP != 41001 {
		t.Errorf("client ports = %d-%d, want 41000-41001", sess.ClientRTP, sess.ClientRTCP)
	}
	if sess.ServerRTP != 6970 || sess.ServerRTCP != 6971 {
		t.Errorf("server ports = %d-%d", sess.ServerRTP, sess.ServerRTCP)
	}

	if _, err := c.Play(ctx, "&addpids=0"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Describe(ctx); err != nil {
		t.Fatal(err)
	}

	reqs := srv.requests()
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}
	setup, play, describe := reqs[0], reqs[1], reqs[2]
	if !strings.HasSuffix(setup.uri, "/?src=1&freq=11727&pol=h") {
		t.Errorf("SETUP uri = %s", setup.uri)
	}
	if got := setup.header.Get("Transport"); got != "RTP/AVP;unicast;client_port=41000-41001" {
		t.Errorf("SETUP Transport = %q", got)
	}
	if got := setup.header.Get("CSeq"); got != "1" {
		t.Errorf("first CSeq = %s, want 1", got)
	}
	if !strings.HasSuffix(play.uri, "/stream=7?addpids=0") {
		t.Errorf("PLAY uri = %s", play.uri)
	}
	if play.header.Get("Session") != "12345678" || play.header.Get("CSeq") != "2" {
		t.Errorf("PLAY headers = %v", play.header)
	}
	if describe.header.Get("Accept") != "application/sdp" || !strings.HasSuffix(describe.uri, "/stream=7") {
		t.Errorf("DESCRIBE = %s %v", describe.uri, describe.header)
	}

	sigMu.Lock()
	if len(signals) != 1 || signals[0] != (SignalInfo{Locked: true, Level: 100, Quality: 100}) {
		t.Errorf("signals = %+v", signals)
	}
	sigMu.Unlock()

	// The data listener is bound to the negotiated RTP port.
	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41000})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	pkt := rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 33, SequenceNumber: 9}, Payload: make([]byte, 188)}
	raw, _ := pkt.Marshal()
	sender.Write(raw)

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	f, err := c.ReadFrame(rctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.SequenceNumber != 9 {
		t.Errorf("frame seq = %d, want 9", f.SequenceNumber)
	}

	if _, err := c.TearDown(ctx); err != nil {
		t.Fatal(err)
	}
	if c.HasSession() {
		t.Error("session should be cleared after TearDown")
	}
	status, err = c.TearDown(ctx)
	if err != nil || status != StatusOK {
		t.Errorf("second TearDown = %d, %v", status, err)
	}
	if got := srv.methods(); strings.Join(got, ",") != "SETUP,PLAY,DESCRIBE,TEARDOWN" {
		t.Errorf("methods = %v", got)
	}
	teardown := srv.requests()[3]
	if !strings.HasSuffix(teardown.uri, "/stream=7") || teardown.header.Get("Session") != "12345678" {
		t.Errorf("TEARDOWN = %s %v", teardown.uri, teardown.header)
	}
	if _, err := c.ReadFrame(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("ReadFrame after TearDown err = %v, want ErrNoSession", err)
	}
	if len(responses) != 4 || responses[0] != "SETUP 200" {
		t.Errorf("responses = %v", responses)
	}
}

func TestClient_SetupErrorStatus(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, func(fakeRequest) fakeResponse {
		return fakeResponse{status: 453}
	})
	c := NewClient("127.0.0.1", Options{Port: srv.port(), UsedPorts: usedBelow(41100)})

	status, err := c.Setup(context.Background(), "src=1", Unicast)
	if status != StatusNotEnoughBandwidth {
		t.Errorf("status = %d, want 453", status)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Status != StatusNotEnoughBandwidth || pe.Method != "SETUP" {
		t.Fatalf("err = %v, want ProtocolError 453", err)
	}
	if status.Explain() == "" {
		t.Error("453 should have an explanation")
	}
	if c.HasSession() {
		t.Error("failed SETUP must not create a session")
	}
}

func TestClient_SetupMissingStreamID(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, func(fakeRequest) fakeResponse {
		return fakeResponse{status: 200, headers: map[string]string{"Session": "abc"}}
	})
	c := NewClient("127.0.0.1", Options{Port: srv.port(), UsedPorts: usedBelow(41200)})

	_, err := c.Setup(context.Background(), "src=1", Unicast)
	if !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("err = %v, want ErrMissingHeader", err)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient("127.0.0.1", Options{Port: port, RequestTimeout: time.Second})
	_, err = c.Options(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Fatalf("err = %v, want connect TransportError", err)
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, func(fakeRequest) fakeResponse { return fakeResponse{hang: true} })
	c := NewClient("127.0.0.1", Options{Port: srv.port(), RequestTimeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := c.Options(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("err = %v, want a timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("request took %v", elapsed)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, func(fakeRequest) fakeResponse { return fakeResponse{hang: true} })
	c := NewClient("127.0.0.1", Options{Port: srv.port(), RequestTimeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := c.Options(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestClient_KeepAlive(t *testing.T) {
	t.Parallel()
	srv := satipServer(t, 1)
	c := NewClient("127.0.0.1", Options{Port: srv.port(), UsedPorts: usedBelow(41300)})
	ctx := context.Background()
	if _, err := c.Setup(ctx, "src=1", Unicast); err != nil {
		t.Fatal(err)
	}
	defer c.TearDown(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range srv.requests() {
			if r.method == "OPTIONS" {
				if r.header.Get("Session") != "12345678" {
					t.Errorf("keep-alive Session = %q", r.header.Get("Session"))
				}
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("no keep-alive OPTIONS within 5s")
}

func TestClient_ByeTearsDown(t *testing.T) {
	t.Parallel()
	srv := satipServer(t, 60)
	c := NewClient("127.0.0.1", Options{Port: srv.port(), UsedPorts: usedBelow(41400)})
	if _, err := c.Setup(context.Background(), "src=1", Unicast); err != nil {
		t.Fatal(err)
	}

	bye, err := (&rtcp.Goodbye{Sources: []uint32{1}}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41401})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	sender.Write(bye)

	deadline := time.Now().Add(5 * time.Second)
	for c.HasSession() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if c.HasSession() {
		t.Fatal("BYE did not end the session")
	}
	// Wait for the TEARDOWN request to be recorded.
	for time.Now().Before(deadline) {
		if m := srv.methods(); m[len(m)-1] == "TEARDOWN" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("methods = %v, want TEARDOWN last", srv.methods())
}

func TestClient_AppSignal(t *testing.T) {
	t.Parallel()
	srv := satipServer(t, 60)
	got := make(chan SignalInfo, 1)
	c := NewClient("127.0.0.1", Options{
		Port:      srv.port(),
		UsedPorts: usedBelow(41500),
		OnSignal:  func(s SignalInfo) { got <- s },
	})
	ctx := context.Background()
	if _, err := c.Setup(ctx, "src=1", Unicast); err != nil {
		t.Fatal(err)
	}
	defer c.TearDown(ctx)

	status := "ver=1.0;src=1;tuner=1,51,0,3,11727.00,h,dvbs2,8psk,on,0.35,27500,23;pids=0"
	data := append([]byte{0, 0, 0, byte(len(status))}, status...)
	for len(data)%4 != 0 {
		data = append(data, 0)
	}
	app, err := (&rtcp.ApplicationDefined{Name: "SES1", Data: data}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41501})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	sender.Write(app)

	select {
	case s := <-got:
		if s != (SignalInfo{Locked: false, Level: 20, Quality: 20}) {
			t.Errorf("signal = %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no signal from APP packet")
	}
}

func TestClient_SessionNotFound(t *testing.T) {
	t.Parallel()
	tuner := satipHandler(60)
	var mu sync.Mutex
	plays := 0
	srv := newFakeServer(t, func(r fakeRequest) fakeResponse {
		if r.method == "PLAY" {
			mu.Lock()
			plays++
			first := plays == 1
			mu.Unlock()
			if first {
				return fakeResponse{status: 454}
			}
		}
		return tuner(r)
	})
	c := NewClient("127.0.0.1", Options{Port: srv.port(), UsedPorts: usedBelow(41600)})
	ctx := context.Background()
	defer c.TearDown(ctx)

	if _, err := c.Setup(ctx, "src=1&freq=11727", Unicast); err != nil {
		t.Fatal(err)
	}
	status, err := c.Play(ctx, "src=1&freq=11727")
	var pe *ProtocolError
	if status != StatusSessionNotFound || !errors.As(err, &pe) {
		t.Fatalf("PLAY = %d, %v; want 454 ProtocolError", status, err)
	}
	if c.HasSession() {
		t.Fatal("session should be forgotten after 454")
	}
	if _, err := c.ReadFrame(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("ReadFrame after 454: got %v, want ErrNoSession", err)
	}

	if _, err := c.Setup(ctx, "src=1&freq=11727", Unicast); err != nil {
		t.Fatalf("second SETUP: %v", err)
	}
	if _, err := c.Play(ctx, "src=1&freq=11727"); err != nil {
		t.Fatalf("PLAY on the new session: %v", err)
	}

	var setups []fakeRequest
	for _, r := range srv.requests() {
		if r.method == "SETUP" {
			setups = append(setups, r)
		}
	}
	if len(setups) != 2 {
		t.Fatalf("SETUP count: got %d, want 2", len(setups))
	}
	if got := setups[1].header.Get("Session"); got != "" {
		t.Errorf("second SETUP carried Session %q, want a fresh session", got)
	}
}

func TestClient_KeepAliveRetriesAfterFailure(t *testing.T) {
	t.Parallel()
	tuner := satipHandler(1)
	var mu sync.Mutex
	options := 0
	srv := newFakeServer(t, func(r fakeRequest) fakeResponse {
		if r.method == "OPTIONS" {
			mu.Lock()
			options++
			first := options == 1
			mu.Unlock()
			if first {
				return fakeResponse{hang: true}
			}
		}
		return tuner(r)
	})
	c := NewClient("127.0.0.1", Options{
		Port:           srv.port(),
		RequestTimeout: 300 * time.Millisecond,
		UsedPorts:      usedBelow(41700),
	})
	ctx := context.Background()
	if _, err := c.Setup(ctx, "src=1", Unicast); err != nil {
		t.Fatal(err)
	}
	defer c.TearDown(ctx)

	// The first OPTIONS times out and drops the connection; the next
	// tick reconnects and sends another.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := options
		mu.Unlock()
		if n >= 2 {
			if !c.HasSession() {
				t.Error("a failed keep-alive should not end the session")
			}
			if got := srv.connections(); got < 2 {
				t.Errorf("connections: got %d, want a reconnect", got)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("no second keep-alive OPTIONS within 5s")
}
