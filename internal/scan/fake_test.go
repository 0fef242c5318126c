package scan

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/satscan/internal/media"
	"github.com/zsiec/satscan/internal/mpegts/mpegtstest"
	"github.com/zsiec/satscan/internal/rtsp"
)

// transponder is what the fake tuner receives on one frequency: sections
// per PID, and whether it locks.
type transponder struct {
	locked   bool
	sections map[uint16][][]byte
}

// fakeSession plays the part of a SAT>IP server for the scanner. Each
// ReadFrame returns one datagram with the tables of every requested PID,
// or a null packet when none of them carry data.
type fakeSession struct {
	mu          sync.Mutex
	signal      func(rtsp.SignalInfo)
	transponder map[float64]*transponder
	packetizer  *mpegtstest.Packetizer

	session   bool
	tuned     *transponder
	pids      map[uint16]bool
	seq       uint16
	calls     []string
	teardowns int

	setupStatus rtsp.StatusCode
	// expired makes the next PLAY answer 454 and forget the session, as
	// the rtsp client does.
	expired bool
	// onPlay runs after each PLAY with the query string.
	onPlay func(query string)
}

func newFakeSession(tps map[float64]*transponder) *fakeSession {
	return &fakeSession{
		transponder: tps,
		packetizer:  mpegtstest.NewPacketizer(),
		pids:        make(map[uint16]bool),
	}
}

func (f *fakeSession) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSession) HasSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSession) Setup(ctx context.Context, query string, mode rtsp.Mode) (rtsp.StatusCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SETUP " + query)
	if f.setupStatus != 0 && f.setupStatus != rtsp.StatusOK {
		return f.setupStatus, &rtsp.ProtocolError{Method: "SETUP", Status: f.setupStatus}
	}
	f.session = true
	f.tune(query)
	return rtsp.StatusOK, nil
}

func (f *fakeSession) Play(ctx context.Context, query string) (rtsp.StatusCode, error) {
	f.mu.Lock()
	if !f.session {
		f.mu.Unlock()
		return 0, rtsp.ErrNoSession
	}
	if f.expired {
		f.expired = false
		f.session = false
		f.record("PLAY(454) " + query)
		f.mu.Unlock()
		return rtsp.StatusSessionNotFound, &rtsp.ProtocolError{Method: "PLAY", Status: rtsp.StatusSessionNotFound}
	}
	f.record("PLAY " + query)
	q := strings.TrimLeft(query, "&")
	if strings.Contains(q, "freq=") {
		f.tune(q)
	} else if v, err := url.ParseQuery(q); err == nil {
		for _, p := range v["addpids"] {
			n, _ := strconv.Atoi(p)
			f.pids[uint16(n)] = true
		}
		for _, p := range v["delpids"] {
			n, _ := strconv.Atoi(p)
			delete(f.pids, uint16(n))
		}
	}
	hook := f.onPlay
	f.mu.Unlock()

	if hook != nil {
		hook(query)
	}
	return rtsp.StatusOK, nil
}

// tune selects the transponder named by freq= and resets the PID filter
// to pids=. Caller holds f.mu.
func (f *fakeSession) tune(query string) {
	v, _ := url.ParseQuery(query)
	freq, _ := strconv.ParseFloat(v.Get("freq"), 64)
	f.tuned = f.transponder[freq]
	f.pids = make(map[uint16]bool)
	for _, p := range strings.Split(v.Get("pids"), ",") {
		if n, err := strconv.Atoi(p); err == nil {
			f.pids[uint16(n)] = true
		}
	}
}

func (f *fakeSession) Describe(ctx context.Context) (rtsp.StatusCode, error) {
	f.mu.Lock()
	f.record("DESCRIBE")
	locked := f.tuned != nil && f.tuned.locked
	signal := f.signal
	f.mu.Unlock()

	info := rtsp.SignalInfo{}
	if locked {
		info = rtsp.SignalInfo{Locked: true, Level: 80, Quality: 93}
	}
	if signal != nil {
		signal(info)
	}
	return rtsp.StatusOK, nil
}

func (f *fakeSession) TearDown(ctx context.Context) (rtsp.StatusCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	if f.session {
		f.record("TEARDOWN")
	}
	f.session = false
	f.tuned = nil
	return rtsp.StatusOK, nil
}

func (f *fakeSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if !f.session {
		f.mu.Unlock()
		return nil, rtsp.ErrNoSession
	}
	var units [][]byte
	if f.tuned != nil {
		pids := make([]uint16, 0, len(f.pids))
		for pid := range f.pids {
			pids = append(pids, pid)
		}
		slices.Sort(pids)
		for _, pid := range pids {
			if sections := f.tuned.sections[pid]; len(sections) > 0 {
				units = append(units, f.packetizer.Packets(pid, sections...)...)
			}
		}
	}
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	if len(units) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		units = [][]byte{mpegtstest.NullPacket()}
	}
	raw := mpegtstest.Datagram(seq, units...)
	return &media.Frame{SequenceNumber: seq, PayloadType: media.PayloadTypeMP2T, Payload: raw[12:], Raw: raw}, nil
}

func (f *fakeSession) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeSession) teardownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teardowns
}

// astra is a locked transponder with two programs, two services and a NIT
// that lists it with delivery and channel numbers.
func astra() *transponder {
	return &transponder{
		locked: true,
		sections: map[uint16][][]byte{
			0x0000: {mpegtstest.PAT(1001, mpegtstest.Program{Number: 1, PID: 100}, mpegtstest.Program{Number: 2, PID: 200})},
			100: {mpegtstest.PMT(1, 0x101,
				mpegtstest.Stream{Type: 0x1B, PID: 0x101},
				mpegtstest.Stream{Type: 0x03, PID: 0x102},
			)},
			200: {mpegtstest.PMT(2, 0x201,
				mpegtstest.Stream{Type: 0x02, PID: 0x201},
				mpegtstest.Stream{Type: 0x04, PID: 0x202},
				mpegtstest.Stream{Type: 0x06, PID: 0x203, Descriptors: mpegtstest.Descriptor(0x6A)},
				mpegtstest.Stream{Type: 0x06, PID: 0x204, Descriptors: mpegtstest.Descriptor(0x56)},
			)},
			0x0011: {mpegtstest.SDT(1001, 1,
				mpegtstest.Service{ID: 1, Type: 0x01, Name: "Das Erste", Provider: "ARD"},
				mpegtstest.Service{ID: 2, Type: 0x19, Name: "Sky Cinema", Provider: "Sky", Scrambled: true},
			)},
			0x0010: {mpegtstest.NIT(1, "Astra", mpegtstest.Transport{
				TSID: 1001, ONID: 1,
				Descriptors: append(mpegtstest.SatelliteDelivery(11727000, 27500, false, true),
					mpegtstest.LogicalChannels(1, 101, 2, 102)...),
			})},
		},
	}
}
