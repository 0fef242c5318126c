// Package tuner tracks the scans running against each tuner, providing
// acquire/release/list operations used by the scan host and the status API.
// A tuner address is leased to at most one scan at a time.
package tuner

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/satscan/internal/rtsp"
	"github.com/zsiec/satscan/internal/scan"
)

// Progress is the part of scan.Scanner the status view reads.
type Progress interface {
	State() scan.State
	Progress() int
	ChannelsFound() int64
	Signal() (rtsp.SignalInfo, bool)
}

// Scan is one lease on a tuner.
type Scan struct {
	ID        string
	Tuner     string
	Address   string
	StartedAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	progress Progress
}

// Attach sets the source of live status for the lease.
func (s *Scan) Attach(p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// Done is closed when the lease is released.
func (s *Scan) Done() <-chan struct{} { return s.done }

// Status is a point-in-time view of a scan, suitable for JSON.
type Status struct {
	ID        string           `json:"id"`
	Tuner     string           `json:"tuner"`
	Address   string           `json:"address"`
	StartedAt time.Time        `json:"startedAt"`
	UptimeMs  int64            `json:"uptimeMs"`
	State     scan.State       `json:"state"`
	Progress  int              `json:"progress"`
	Channels  int64            `json:"channels"`
	Signal    *rtsp.SignalInfo `json:"signal,omitempty"`
}

func (s *Scan) Status() Status {
	st := Status{
		ID:        s.ID,
		Tuner:     s.Tuner,
		Address:   s.Address,
		StartedAt: s.StartedAt,
		UptimeMs:  time.Since(s.StartedAt).Milliseconds(),
	}
	s.mu.Lock()
	p := s.progress
	s.mu.Unlock()
	if p != nil {
		st.State = p.State()
		st.Progress = p.Progress()
		st.Channels = p.ChannelsFound()
		if sig, ok := p.Signal(); ok {
			st.Signal = &sig
		}
	}
	return st
}

// Manager manages the tuner leases.
type Manager struct {
	log       *slog.Logger
	mu        sync.RWMutex
	scans     map[string]*Scan // by ID
	addresses map[string]string
}

// NewManager creates a new tuner manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:       log.With("component", "tuner-manager"),
		scans:     make(map[string]*Scan),
		addresses: make(map[string]string),
	}
}

// Acquire leases the tuner at address. Returns the lease and true, or nil
// and false if a scan already holds that address.
func (m *Manager) Acquire(name, address string) (*Scan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.addresses[address]; ok {
		m.log.Warn("tuner busy, rejecting scan", "tuner", name, "address", address, "scan", id)
		return nil, false
	}

	s := &Scan{
		ID:        uuid.New().String(),
		Tuner:     name,
		Address:   address,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.scans[s.ID] = s
	m.addresses[address] = s.ID
	m.log.Info("tuner acquired", "tuner", name, "address", address, "scan", s.ID)
	return s, true
}

// Release ends the lease with the given ID.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	s, ok := m.scans[id]
	if ok {
		delete(m.scans, id)
		delete(m.addresses, s.Address)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("tuner released", "tuner", s.Tuner, "scan", id)
	}
}

func (m *Manager) Get(id string) (*Scan, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scans[id]
	return s, ok
}

// List returns all active scans, oldest first.
func (m *Manager) List() []*Scan {
	m.mu.RLock()
	scans := make([]*Scan, 0, len(m.scans))
	for _, s := range m.scans {
		scans = append(scans, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(scans, func(a, b *Scan) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return scans
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scans)
}
