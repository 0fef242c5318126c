package rtsp

import (
	"strconv"
	"strings"
)

// DefaultSessionTimeout is the session timeout in seconds assumed when
// the Session header carries none.
const DefaultSessionTimeout = 30

// Mode selects how the server delivers the stream.
type Mode int

const (
	Unicast Mode = iota
	Multicast
)

func (m Mode) String() string {
	if m == Multicast {
		return "multicast"
	}
	return "unicast"
}

// ParseMode accepts "unicast" or "multicast" in any case; empty means
// unicast.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unicast":
		return Unicast, nil
	case "multicast":
		return Multicast, nil
	}
	return Unicast, &FormatError{Field: "mode", Value: s}
}

// parseSession parses "id[;timeout=n]".
func parseSession(v string) (id string, timeout int, err error) {
	parts := strings.Split(strings.TrimSpace(v), ";")
	id = strings.TrimSpace(parts[0])
	if id == "" || strings.ContainsAny(id, " \t") {
		return "", 0, &FormatError{Field: "Session", Value: v}
	}
	timeout = DefaultSessionTimeout
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(key, "timeout") {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return "", 0, &FormatError{Field: "Session timeout", Value: v}
		}
		timeout = n
	}
	return id, timeout, nil
}

// transport is the subset of a Transport header the client uses. Ports
// are zero when absent.
type transport struct {
	multicast    bool
	clientRTP    int
	clientRTCP   int
	serverRTP    int
	serverRTCP   int
	destination  string
	source       string
	multicastTTL int
}

// parseTransport reads the first RTP/AVP specification of a Transport
// header. Unknown parameters are ignored.
func parseTransport(v string) (transport, error) {
	var t transport
	for _, spec := range strings.Split(v, ",") {
		spec = strings.TrimSpace(spec)
		if !strings.HasPrefix(spec, "RTP/AVP") {
			continue
		}
		for _, param := range strings.Split(spec, ";")[1:] {
			key, val, _ := strings.Cut(strings.TrimSpace(param), "=")
			var err error
			switch strings.ToLower(key) {
			case "multicast":
				t.multicast = true
			case "unicast":
				t.multicast = false
			case "client_port", "port":
				t.clientRTP, t.clientRTCP, err = parsePortPair(key, val)
			case "server_port":
				t.serverRTP, t.serverRTCP, err = parsePortPair(key, val)
			case "destination":
				t.destination = val
			case "source":
				t.source = val
			case "ttl":
				t.multicastTTL, err = strconv.Atoi(val)
				if err != nil {
					err = &FormatError{Field: "Transport ttl", Value: val}
				}
			}
			if err != nil {
				return transport{}, err
			}
		}
		return t, nil
	}
	return transport{}, &FormatError{Field: "Transport", Value: v}
}

// parsePortPair parses "a-b". A single port p stands for p and p+1.
func parsePortPair(field, v string) (int, int, error) {
	lo, hi, found := strings.Cut(v, "-")
	a, err := strconv.Atoi(lo)
	if err != nil || a <= 0 || a > 65535 {
		return 0, 0, &FormatError{Field: "Transport " + field, Value: v}
	}
	if !found {
		return a, a + 1, nil
	}
	b, err := strconv.Atoi(hi)
	if err != nil || b <= 0 || b > 65535 {
		return 0, 0, &FormatError{Field: "Transport " + field, Value: v}
	}
	return a, b, nil
}
