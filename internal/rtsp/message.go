package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	protocol      = "RTSP/1.0"
	maxBodyLength = 1 << 20
)

type header struct {
	key, value string
}

type request struct {
	method  string
	uri     string
	headers []header
}

func newRequest(method, uri string) *request {
	return &request{method: method, uri: uri}
}

func (r *request) set(key, value string) {
	r.headers = append(r.headers, header{key, value})
}

func (r *request) marshal() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\r\n", r.method, r.uri, protocol)
	for _, h := range r.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.key, h.value)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

type response struct {
	status StatusCode
	reason string
	header textproto.MIMEHeader
	body   []byte
}

// readResponse reads a status line, MIME headers and a body of
// Content-Length bytes.
func readResponse(br *bufio.Reader) (*response, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "RTSP/") {
		return nil, &FormatError{Field: "status line", Value: line}
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 999 {
		return nil, &FormatError{Field: "status line", Value: line}
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}
	resp := &response{status: StatusCode(code), reason: reason, header: hdr}

	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 || n > maxBodyLength {
			return nil, &FormatError{Field: "Content-Length", Value: cl}
		}
		resp.body = make([]byte, n)
		if _, err := io.ReadFull(br, resp.body); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
