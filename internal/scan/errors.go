package scan

import (
	"errors"
	"fmt"

	"github.com/zsiec/satscan/internal/rtsp"
)

var (
	// ErrCancelled is returned by Run when its context ends the scan. It
	// is joined with the context's error.
	ErrCancelled = errors.New("scan: cancelled")
	// ErrTableTimeout reports a table that did not complete within
	// Options.TableTimeout.
	ErrTableTimeout = errors.New("scan: table timeout")
	// ErrBusy is returned when Run is called on a scanner that is running.
	ErrBusy = errors.New("scan: already running")
)

// EntryError reports a failed session operation for one tuning entry.
// The scan skips the entry and continues.
type EntryError struct {
	Index int
	Entry TuningParameters
	Op    string
	Err   error
}

func (e *EntryError) Error() string {
	msg := fmt.Sprintf("scan: entry %d (%s): %s: %v", e.Index, e.Entry, e.Op, e.Err)
	if s := e.Status(); s != 0 {
		if x := s.Explain(); x != "" {
			msg += ": " + x
		}
	}
	return msg
}

func (e *EntryError) Unwrap() error { return e.Err }

// Status returns the RTSP status that caused the failure, or 0.
func (e *EntryError) Status() rtsp.StatusCode {
	var pe *rtsp.ProtocolError
	if errors.As(e.Err, &pe) {
		return pe.Status
	}
	return 0
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// TableError names the table a timeout hit.
type TableError struct {
	Table string
	PID   uint16
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("scan: %s (pid %d): %v", e.Table, e.PID, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }
