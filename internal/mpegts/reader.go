package mpegts

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrIncomplete is returned when a stream ends before a table is ready.
var ErrIncomplete = errors.New("mpegts: stream ended before table was complete")

// ReadTable reads 188-byte packets from r and feeds them to a until it is
// ready. Packets that fail to parse are skipped.
func ReadTable(ctx context.Context, r io.Reader, a Assembler) error {
	buf := make([]byte, packetSize)
	for !a.Ready() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w (pid 0x%04X)", ErrIncomplete, a.PID())
			}
			return fmt.Errorf("mpegts: read: %w", err)
		}
		a.Feed(buf)
	}
	return nil
}

// Tables is everything ReadTables could collect from one stream. Missing
// tables are nil.
type Tables struct {
	PAT  *PATTable
	PMTs map[uint16]*PMTTable // keyed by program number
	SDT  *SDTTable
	NIT  *NITTable
}

// ReadTables collects PAT, every announced PMT, SDT and NIT from a
// recorded transport stream in a single pass. It stops once all tables
// are ready or the stream ends; only a missing PAT is an error.
func ReadTables(ctx context.Context, r io.Reader) (*Tables, error) {
	pat := NewPATAssembler()
	sdt := NewSDTAssembler()
	nit := NewNITAssembler(0)
	var pmts []*PMTAssembler

	out := &Tables{PMTs: make(map[uint16]*PMTTable)}
	buf := make([]byte, packetSize)

	done := func() bool {
		if !pat.Ready() || !sdt.Ready() || !nit.Ready() {
			return false
		}
		for _, a := range pmts {
			if !a.Ready() {
				return false
			}
		}
		return true
	}

	for !done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("mpegts: read: %w", err)
		}

		wasReady := pat.Ready()
		pat.Feed(buf)
		if !wasReady && pat.Ready() {
			for program, pid := range pat.Table().Programs {
				pmts = append(pmts, NewPMTAssembler(pid, program))
			}
		}
		for _, a := range pmts {
			a.Feed(buf)
		}
		sdt.Feed(buf)
		nit.Feed(buf)
	}

	out.PAT = pat.Table()
	if out.PAT == nil {
		return nil, fmt.Errorf("%w (pid 0x%04X)", ErrIncomplete, PIDPAT)
	}
	for _, a := range pmts {
		if t := a.Table(); t != nil {
			out.PMTs[t.ProgramNumber] = t
		}
	}
	out.SDT = sdt.Table()
	out.NIT = nit.Table()
	return out, nil
}
