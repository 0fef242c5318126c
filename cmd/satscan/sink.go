package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/zsiec/satscan/internal/mpegts"
	"github.com/zsiec/satscan/internal/scan"
)

// record is one output line.
type record struct {
	Tuner string `json:"tuner,omitempty"`
	scan.Channel
}

// sink writes channels as JSON lines and keeps them for the status API.
// It is shared by every tuner's scanner.
type sink struct {
	mu       sync.Mutex
	enc      *json.Encoder
	channels []scan.Channel
}

func newSink(w io.Writer) *sink {
	return &sink{enc: json.NewEncoder(w)}
}

func (s *sink) emit(tuner string, ch scan.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, ch)
	return s.enc.Encode(record{Tuner: tuner, Channel: ch})
}

func (s *sink) list() []scan.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.channels)
}

// scanFile reports the channels announced by a recorded transport stream.
func scanFile(ctx context.Context, path string, out *sink) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	tables, err := mpegts.ReadTables(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	channels := scan.BuildChannels(nil, tables)
	for _, ch := range channels {
		if err := out.emit("", ch); err != nil {
			return 0, fmt.Errorf("writing channel: %w", err)
		}
	}
	return len(channels), nil
}
