// Package shard stores chunked files in one capped key-value store and manages
// that store's lifecycle.
//
// A Shard moves between five states:
//
//	Closed -> Opening -> Opened -> Closing -> Closed
//	Closed -> Locked -> Closed   (Flush)
//
// Every file operation requires the Opened state and holds a pending count
// for its duration. When the count drops to zero an idle timer starts; if it
// fires before another operation begins the shard closes itself.
package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.uber.org/zap/zapcore"

	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore"
	"github.com/storacha/kfs/pkg/telemetry"
)

var log = logging.Logger("kfs/shard")

const (
	DefaultChunkSize   = 64 * 1024
	DefaultMaxSize     = int64(54975581388) // 51.2GiB
	DefaultIdleTimeout = 60 * time.Second
)

var (
	// ErrShardLocked is returned when opening or operating on a shard that is
	// being flushed.
	ErrShardLocked = errors.New("shard is locked")
	// ErrAlreadyLocked is returned by Flush when a flush holds the lock.
	ErrAlreadyLocked = errors.New("shard is already locked")
	// ErrNotOpen is returned by file operations when the shard is not Opened.
	ErrNotOpen = errors.New("shard is not open")
)

type State int

const (
	Closed State = iota
	Opening
	Opened
	Closing
	Locked
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Opened:
		return "opened"
	case Closing:
		return "closing"
	case Locked:
		return "locked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	// ChunkSize is the size of every stored chunk but the last of a file.
	ChunkSize int
	// MaxSize is the advisory capacity of the shard in bytes.
	MaxSize int64
	// IdleTimeout is how long the shard stays open with no pending
	// operations. Zero disables idle closing.
	IdleTimeout time.Duration
	// Store tunes the backing store.
	Store kvstore.Options
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:   DefaultChunkSize,
		MaxSize:     DefaultMaxSize,
		IdleTimeout: DefaultIdleTimeout,
		Store:       kvstore.DefaultOptions(),
	}
}

type Option func(*Shard)

// WithIndex sets the index reported in stats, logs and metrics.
func WithIndex(index int) Option {
	return func(s *Shard) {
		s.index = index
	}
}

// WithClock sets the clock driving the idle timer.
func WithClock(clk clock.Clock) Option {
	return func(s *Shard) {
		s.clock = clk
	}
}

// WithOnIdle registers a hook called after the shard has started closing
// itself for being idle.
func WithOnIdle(fn func(*Shard)) Option {
	return func(s *Shard) {
		s.onIdle = fn
	}
}

func WithMetrics(m *telemetry.StoreMetrics) Option {
	return func(s *Shard) {
		s.metrics = m
	}
}

// Shard is safe for concurrent use. Writes to the same key must be serialized
// by the caller.
type Shard struct {
	path    string
	index   int
	cfg     Config
	codec   keys.Codec
	backend kvstore.Backend
	clock   clock.Clock
	onIdle  func(*Shard)
	metrics *telemetry.StoreMetrics

	mu      sync.Mutex
	state   State
	db      kvstore.Store
	pending int

	openWaiters  []chan error
	closeWaiters []chan error
	// reopen is set by Open during Closing, reclose by Close during Opening.
	reopen  bool
	reclose bool

	idle    *clock.Timer
	idleGen uint64

	flush *flushOp
}

type flushOp struct {
	done chan struct{}
	err  error
	// quiesced is closed when the pending count reaches zero.
	quiesced chan struct{}
}

func (f *flushOp) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates a closed shard rooted at path.
func New(path string, backend kvstore.Backend, cfg Config, opts ...Option) *Shard {
	s := &Shard{
		path:    path,
		cfg:     cfg,
		codec:   keys.NewCodec(cfg.MaxSize, cfg.ChunkSize),
		backend: backend,
		clock:   clock.New(),
		metrics: telemetry.NoopStoreMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = s.metrics.ForShard(s.index)
	return s
}

func (s *Shard) Index() int {
	return s.index
}

func (s *Shard) Path() string {
	return s.path
}

func (s *Shard) Config() Config {
	return s.cfg
}

func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending is the number of operations in flight.
func (s *Shard) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Open opens the backing store. Concurrent callers share one open; a caller
// arriving while the shard closes waits for the close and then opens it again.
func (s *Shard) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Locked || s.flush != nil {
		s.mu.Unlock()
		return ErrShardLocked
	}

	var ch chan error
	switch s.state {
	case Opened:
		s.mu.Unlock()
		return nil
	case Opening:
		ch = s.waitOpen()
	case Closing:
		s.reopen = true
		ch = s.waitOpen()
	case Closed:
		ch = s.waitOpen()
		s.beginOpen()
	}
	s.mu.Unlock()
	return wait(ctx, ch)
}

// Close closes the backing store. Operations still in flight fail with the
// store's closed error.
func (s *Shard) Close(ctx context.Context) error {
	s.mu.Lock()
	var ch chan error
	switch s.state {
	case Closed, Locked:
		s.mu.Unlock()
		return nil
	case Closing:
		ch = s.waitClose()
	case Opening:
		s.reclose = true
		ch = s.waitClose()
	case Opened:
		ch = s.waitClose()
		s.beginClose()
	}
	s.mu.Unlock()
	return wait(ctx, ch)
}

func wait(ctx context.Context, ch chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitOpen and waitClose must be called with mu held. The channels are
// buffered so that notifying never blocks on a caller that gave up.
func (s *Shard) waitOpen() chan error {
	ch := make(chan error, 1)
	s.openWaiters = append(s.openWaiters, ch)
	return ch
}

func (s *Shard) waitClose() chan error {
	ch := make(chan error, 1)
	s.closeWaiters = append(s.closeWaiters, ch)
	return ch
}

func notify(waiters []chan error, err error) {
	for _, ch := range waiters {
		ch <- err
	}
}

// beginOpen must be called with mu held.
func (s *Shard) beginOpen() {
	s.setState(Opening)
	go s.openStore()
}

func (s *Shard) openStore() {
	done := s.metrics.TimeOpen(context.Background())
	db, err := s.backend.Open(s.path, s.cfg.Store)
	done(err)

	s.mu.Lock()
	waiters := s.openWaiters
	s.openWaiters = nil
	if err != nil {
		log.Errorw("failed to open shard", "shard", s.index, "path", s.path, "error", err)
		s.setState(Closed)
		closeWaiters := s.closeWaiters
		s.closeWaiters = nil
		s.reclose = false
		s.mu.Unlock()
		notify(waiters, err)
		notify(closeWaiters, nil)
		return
	}

	s.db = db
	s.setState(Opened)
	log.Debugw("opened shard", "shard", s.index, "path", s.path)
	if s.reclose {
		s.reclose = false
		s.beginClose()
	} else {
		s.startIdle()
	}
	s.mu.Unlock()
	notify(waiters, nil)
}

// beginClose must be called with mu held and the shard Opened.
func (s *Shard) beginClose() {
	s.stopIdle()
	s.setState(Closing)
	db := s.db
	go s.closeStore(db)
}

func (s *Shard) closeStore(db kvstore.Store) {
	err := db.Close()
	if err != nil {
		log.Errorw("failed to close shard", "shard", s.index, "path", s.path, "error", err)
	}

	s.mu.Lock()
	// a failed close still leaves the store unusable
	s.db = nil
	s.setState(Closed)
	waiters := s.closeWaiters
	s.closeWaiters = nil

	var openWaiters []chan error
	if s.reopen {
		s.reopen = false
		if s.flush != nil {
			openWaiters = s.openWaiters
			s.openWaiters = nil
		} else {
			s.beginOpen()
		}
	}
	s.mu.Unlock()

	log.Debugw("closed shard", "shard", s.index, "path", s.path)
	notify(waiters, err)
	notify(openWaiters, ErrShardLocked)
}

// setState must be called with mu held.
func (s *Shard) setState(state State) {
	s.state = state
	s.metrics.RecordTransition(context.Background(), state.String())
}

// startIdle must be called with mu held.
func (s *Shard) startIdle() {
	s.stopIdle()
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	gen := s.idleGen
	s.idle = s.clock.AfterFunc(s.cfg.IdleTimeout, func() {
		// a mock clock runs this while holding its own lock
		go s.fireIdle(gen)
	})
}

// stopIdle must be called with mu held. Bumping the generation discards a
// timer that already fired and is waiting for the lock.
func (s *Shard) stopIdle() {
	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}

func (s *Shard) fireIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.idleGen || s.pending != 0 || s.state != Opened || s.flush != nil {
		s.mu.Unlock()
		return
	}
	s.idle = nil
	s.beginClose()
	onIdle := s.onIdle
	s.mu.Unlock()

	log.Debugw("shard idle", "shard", s.index, "timeout", s.cfg.IdleTimeout)
	if onIdle != nil {
		onIdle(s)
	}
}

// enter registers an operation and returns the store it may use until it
// calls release.
func (s *Shard) enter() (kvstore.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Locked || s.flush != nil {
		return nil, ErrShardLocked
	}
	if s.state != Opened {
		return nil, fmt.Errorf("%w: shard %d is %s", ErrNotOpen, s.index, s.state)
	}
	s.pending++
	s.stopIdle()
	return s.db, nil
}

func (s *Shard) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending > 0 {
		return
	}
	if s.flush != nil {
		if s.flush.quiesced != nil {
			close(s.flush.quiesced)
			s.flush.quiesced = nil
		}
		return
	}
	if s.state == Opened {
		s.startIdle()
	}
}

// Flush locks the shard, repairs and compacts its backing store and unlocks
// it, leaving the shard Closed. It waits for operations in flight to finish;
// operations and opens attempted meanwhile fail with ErrShardLocked. Flush
// calls made while the first waits for in-flight operations share its result.
func (s *Shard) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Locked {
		s.mu.Unlock()
		return ErrAlreadyLocked
	}
	if f := s.flush; f != nil {
		s.mu.Unlock()
		return f.wait(ctx)
	}

	f := &flushOp{done: make(chan struct{})}
	if s.pending > 0 {
		f.quiesced = make(chan struct{})
	}
	s.flush = f
	s.stopIdle()
	quiesced := f.quiesced
	s.mu.Unlock()

	go s.runFlush(f, quiesced)
	return f.wait(ctx)
}

func (s *Shard) runFlush(f *flushOp, quiesced chan struct{}) {
	start := s.clock.Now()
	if quiesced != nil {
		log.Debugw("waiting for pending operations before lock", "shard", s.index)
		<-quiesced
	}

	var err error

	s.mu.Lock()
	var closed chan error
	switch s.state {
	case Opened:
		closed = s.waitClose()
		s.beginClose()
	case Opening:
		s.reclose = true
		closed = s.waitClose()
	case Closing:
		closed = s.waitClose()
	}
	s.mu.Unlock()
	if closed != nil {
		if cerr := <-closed; cerr != nil {
			err = multierror.Append(err, fmt.Errorf("closing shard %d: %w", s.index, cerr))
		}
	}

	s.mu.Lock()
	s.setState(Locked)
	s.mu.Unlock()
	log.Infow("shard locked", "shard", s.index, "path", s.path)

	if rerr := s.backend.Repair(s.path, s.cfg.Store); rerr != nil {
		err = multierror.Append(err, fmt.Errorf("repairing shard %d: %w", s.index, rerr))
	}

	s.mu.Lock()
	s.setState(Closed)
	s.flush = nil
	f.err = err
	s.mu.Unlock()
	close(f.done)

	s.metrics.RecordFlush(context.Background(), s.clock.Since(start), err)
	if err != nil {
		log.Errorw("shard flush failed", "shard", s.index, "error", err)
		return
	}
	log.Infow("shard unlocked", "shard", s.index, "path", s.path)
}

// Stats is the space accounting of one shard.
type Stats struct {
	Index int   `json:"index"`
	Used  int64 `json:"used"`
	// Free is MaxSize minus Used and goes negative when the shard is over
	// capacity.
	Free int64 `json:"free"`
}

func (st Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("index", st.Index)
	enc.AddInt64("used", st.Used)
	enc.AddInt64("free", st.Free)
	return nil
}
