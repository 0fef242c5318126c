// Package scan drives one tuner through a tuning list: it tunes each
// entry, checks for a signal lock, collects the PAT, PMTs, SDT and NIT of
// the transport stream and reports one Channel per service found.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/zsiec/satscan/internal/media"
	"github.com/zsiec/satscan/internal/mpegts"
	"github.com/zsiec/satscan/internal/rtsp"
)

const (
	DefaultTableTimeout = 15 * time.Second
	DefaultSettleDelay  = 5 * time.Second
	teardownTimeout     = 5 * time.Second
)

// Session is the subset of rtsp.Client the scanner drives.
type Session interface {
	HasSession() bool
	Setup(ctx context.Context, query string, mode rtsp.Mode) (rtsp.StatusCode, error)
	Play(ctx context.Context, query string) (rtsp.StatusCode, error)
	Describe(ctx context.Context) (rtsp.StatusCode, error)
	TearDown(ctx context.Context) (rtsp.StatusCode, error)
	ReadFrame(ctx context.Context) (*media.Frame, error)
}

// Options configures a Scanner. Callbacks run on the scanner goroutine,
// except OnSignal which runs wherever HandleSignal is called.
type Options struct {
	Mode rtsp.Mode
	// TableTimeout bounds the wait for each table. Zero means
	// DefaultTableTimeout.
	TableTimeout time.Duration
	// SettleDelay is the pause after each entry. Zero means
	// DefaultSettleDelay; negative disables it.
	SettleDelay time.Duration
	Logger      *slog.Logger

	OnProgress func(percent int)
	OnChannel  func(Channel)
	OnSignal   func(rtsp.SignalInfo)
	OnState    func(State)
	OnError    func(error)
	OnBusy     func(busy bool)
	// OnTable reports every table wait; err is nil when the table
	// completed.
	OnTable func(table string, err error)
	// OnEntry reports the outcome of every tuning entry.
	OnEntry func(index int, locked bool, channels int)
}

// Scanner runs a scan over one session. Run may be called again after it
// returns; concurrent calls fail with ErrBusy.
type Scanner struct {
	session Session
	opts    Options
	log     *slog.Logger

	running  atomic.Bool
	state    atomic.Int32
	locked   atomic.Bool
	progress atomic.Int32
	channels atomic.Int64
	signal   atomic.Pointer[rtsp.SignalInfo]
}

func New(session Session, opts Options) *Scanner {
	if opts.TableTimeout <= 0 {
		opts.TableTimeout = DefaultTableTimeout
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		session: session,
		opts:    opts,
		log:     log.With("component", "scanner"),
	}
}

// HandleSignal records a signal report from the session. It is meant to
// be installed as rtsp.Options.OnSignal.
func (s *Scanner) HandleSignal(info rtsp.SignalInfo) {
	s.locked.Store(info.Locked)
	s.signal.Store(&info)
	if s.opts.OnSignal != nil {
		s.opts.OnSignal(info)
	}
}

func (s *Scanner) State() State { return State(s.state.Load()) }

func (s *Scanner) Progress() int { return int(s.progress.Load()) }

// ChannelsFound counts channels emitted by the current or last run.
func (s *Scanner) ChannelsFound() int64 { return s.channels.Load() }

// Signal returns the last reported signal, if any.
func (s *Scanner) Signal() (rtsp.SignalInfo, bool) {
	if p := s.signal.Load(); p != nil {
		return *p, true
	}
	return rtsp.SignalInfo{}, false
}

// Run scans entries in order. It returns nil once the list is exhausted,
// an error wrapping ErrCancelled when ctx ends the scan, or the first
// error that prevents further tuning. Failures that only affect one
// entry are reported through OnError and the scan moves on. Whatever the
// outcome, the session is torn down once before Run returns.
func (s *Scanner) Run(ctx context.Context, entries []TuningParameters) (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	s.channels.Store(0)
	s.setBusy(true)
	s.log.Info("scan started", "entries", len(entries))
	defer func() { s.finish(ctx, err) }()

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		s.setProgress(percent(i, len(entries)))
		if err := s.scanEntry(ctx, i, entry); err != nil {
			return err
		}
		s.setProgress(percent(i+1, len(entries)))
	}
	return nil
}

func (s *Scanner) finish(ctx context.Context, err error) {
	if errors.Is(err, ErrCancelled) {
		s.setState(StateStopping)
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if _, terr := s.session.TearDown(tctx); terr != nil {
		s.log.Warn("teardown failed", "error", terr)
	}

	if err == nil {
		s.setProgress(100)
	} else {
		s.setProgress(0)
	}
	s.setBusy(false)
	s.setState(StateDone)
	s.log.Info("scan finished", "channels", s.channels.Load(), "error", err)
}

func (s *Scanner) scanEntry(ctx context.Context, index int, entry TuningParameters) error {
	log := s.log.With("entry", index, "tuning", entry.String())
	query := entry.Query()

	s.setState(StateTuning)
	s.locked.Store(false)
	if op, err := s.tune(ctx, log, query); err != nil {
		return s.skipEntry(ctx, index, entry, op, err)
	}

	s.setState(StateWaitingLock)
	if _, err := s.session.Describe(ctx); err != nil {
		if err := s.entryError(ctx, index, entry, "describe", err); err != nil {
			return err
		}
	}
	if !s.locked.Load() {
		log.Info("no signal lock")
		s.entryDone(index, false, 0)
		s.setState(StateAdvance)
		return s.settle(ctx)
	}

	tables, err := s.acquireTables(ctx, log)
	if err != nil {
		if err := s.entryError(ctx, index, entry, "tables", err); err != nil {
			return err
		}
	}

	s.setState(StateEmitting)
	channels := BuildChannels(&entry, tables)
	for _, ch := range channels {
		s.channels.Add(1)
		if s.opts.OnChannel != nil {
			s.opts.OnChannel(ch)
		}
	}
	log.Info("entry scanned", "channels", len(channels))
	s.entryDone(index, true, len(channels))

	s.setState(StateAdvance)
	return s.settle(ctx)
}

// tune sets up a session if there is none and plays query on it. When
// the server no longer knows the session, a new one is set up once. The
// returned op names the request that failed.
func (s *Scanner) tune(ctx context.Context, log *slog.Logger, query string) (string, error) {
	for retried := false; ; retried = true {
		if !s.session.HasSession() {
			if _, err := s.session.Setup(ctx, query, s.opts.Mode); err != nil {
				return "setup", err
			}
		}
		_, err := s.session.Play(ctx, query)
		if err == nil {
			return "", nil
		}
		if retried || !sessionLost(err) || ctx.Err() != nil {
			return "play", err
		}
		log.Warn("session lost, setting up a new one", "error", err)
		if s.session.HasSession() {
			if _, err := s.session.TearDown(ctx); err != nil {
				log.Debug("teardown of lost session failed", "error", err)
			}
		}
	}
}

// sessionLost reports whether err means the server has no session for us.
func sessionLost(err error) bool {
	var pe *rtsp.ProtocolError
	if errors.As(err, &pe) && pe.Status == rtsp.StatusSessionNotFound {
		return true
	}
	return errors.Is(err, rtsp.ErrNoSession)
}

// skipEntry reports a failure that ends the entry early. The settle
// delay is skipped.
func (s *Scanner) skipEntry(ctx context.Context, index int, entry TuningParameters, op string, err error) error {
	if err := s.entryError(ctx, index, entry, op, err); err != nil {
		return err
	}
	s.entryDone(index, false, 0)
	s.setState(StateAdvance)
	return nil
}

// entryError classifies err. Cancellation and failures that will affect
// every later entry are returned; anything scoped to this entry is
// reported through OnError and nil is returned.
func (s *Scanner) entryError(ctx context.Context, index int, entry TuningParameters, op string, err error) error {
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cancelled(cerr)
	}
	e := &EntryError{Index: index, Entry: entry, Op: op, Err: err}
	s.reportError(e)
	if recoverable(err) {
		s.log.Warn("entry failed", "entry", index, "op", op, "error", err)
		return nil
	}
	return e
}

// recoverable reports whether the next entry can still be attempted:
// the server answered, a table timed out, or the server ended the
// session (the next entry sets up a new one).
func recoverable(err error) bool {
	var pe *rtsp.ProtocolError
	return errors.As(err, &pe) ||
		errors.Is(err, ErrTableTimeout) ||
		errors.Is(err, rtsp.ErrNoSession)
}

// acquireTables collects the tables of the tuned transport stream. A PMT
// or NIT timeout leaves that table out; a PAT or SDT timeout is returned
// along with whatever was collected.
func (s *Scanner) acquireTables(ctx context.Context, log *slog.Logger) (*mpegts.Tables, error) {
	t := &mpegts.Tables{PMTs: make(map[uint16]*mpegts.PMTTable)}

	s.setState(StateAcquiringProgramTable)
	pat := mpegts.NewPATAssembler()
	if err := s.pull(ctx, "pat", pat, false); err != nil {
		return t, err
	}
	t.PAT = pat.Table()
	log.Debug("pat", "tsid", t.PAT.TransportStreamID, "programs", len(t.PAT.Programs))

	s.setState(StateAcquiringProgramMaps)
	programs := make([]uint16, 0, len(t.PAT.Programs))
	for program := range t.PAT.Programs {
		programs = append(programs, program)
	}
	slices.Sort(programs)
	for _, program := range programs {
		pmt := mpegts.NewPMTAssembler(t.PAT.Programs[program], program)
		err := s.pull(ctx, "pmt", pmt, true)
		if errors.Is(err, ErrTableTimeout) {
			s.reportError(err)
			continue
		}
		if err != nil {
			return t, err
		}
		t.PMTs[program] = pmt.Table()
	}

	s.setState(StateAcquiringServiceTable)
	sdt := mpegts.NewSDTAssembler()
	if err := s.pull(ctx, "sdt", sdt, true); err != nil {
		return t, err
	}
	t.SDT = sdt.Table()
	log.Debug("sdt", "tsid", t.SDT.TransportStreamID, "services", len(t.SDT.Services))

	s.setState(StateAcquiringNetworkTable)
	nit := mpegts.NewNITAssembler(t.SDT.TransportStreamID)
	err := s.pull(ctx, "nit", nit, true)
	if errors.Is(err, ErrTableTimeout) {
		s.reportError(err)
		return t, nil
	}
	if err != nil {
		return t, err
	}
	t.NIT = nit.Table()
	return t, nil
}

// pull asks the server for the assembler's PID when add is set, reads
// until the table is ready and then drops the PID again. The PID is
// dropped after a timeout too.
func (s *Scanner) pull(ctx context.Context, table string, a mpegts.Assembler, add bool) error {
	pid := a.PID()
	if add {
		if err := s.play(ctx, fmt.Sprintf("&addpids=%d", pid)); err != nil {
			return err
		}
	}
	err := s.acquire(ctx, table, a)
	if err != nil && !errors.Is(err, ErrTableTimeout) {
		return err
	}
	if perr := s.play(ctx, fmt.Sprintf("&delpids=%d", pid)); perr != nil {
		return perr
	}
	if s.opts.OnTable != nil {
		s.opts.OnTable(table, err)
	}
	return err
}

// acquire feeds frames to a until it is ready or TableTimeout passes.
func (s *Scanner) acquire(ctx context.Context, table string, a mpegts.Assembler) error {
	tctx, cancel := context.WithTimeout(ctx, s.opts.TableTimeout)
	defer cancel()

	for !a.Ready() {
		f, err := s.session.ReadFrame(tctx)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cancelled(cerr)
			}
			if tctx.Err() != nil {
				err = ErrTableTimeout
			}
			return &TableError{Table: table, PID: a.PID(), Err: err}
		}
		units, ok := mpegts.SplitUnits(f.Raw)
		if !ok {
			continue
		}
		for _, u := range units {
			a.Feed(u)
		}
	}
	return nil
}

// play changes the PID filter. A refused change is reported and
// tolerated; the table wait that follows will time out if it mattered.
func (s *Scanner) play(ctx context.Context, query string) error {
	_, err := s.session.Play(ctx, query)
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cancelled(cerr)
	}
	var pe *rtsp.ProtocolError
	if errors.As(err, &pe) {
		s.reportError(fmt.Errorf("scan: play %s: %w", query, err))
		return nil
	}
	return err
}

func (s *Scanner) settle(ctx context.Context) error {
	if s.opts.SettleDelay < 0 {
		return nil
	}
	t := time.NewTimer(s.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return cancelled(ctx.Err())
	case <-t.C:
		return nil
	}
}

func (s *Scanner) entryDone(index int, locked bool, channels int) {
	if s.opts.OnEntry != nil {
		s.opts.OnEntry(index, locked, channels)
	}
}

func (s *Scanner) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Scanner) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.log.Debug("state", "state", st.String())
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

func (s *Scanner) setProgress(p int) {
	s.progress.Store(int32(p))
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
}

func (s *Scanner) setBusy(busy bool) {
	if s.opts.OnBusy != nil {
		s.opts.OnBusy(busy)
	}
}

// percent returns index/total as a percentage clamped to [0,100].
func percent(index, total int) int {
	if total <= 0 {
		return 100
	}
	return min(max(index*100/total, 0), 100)
}
