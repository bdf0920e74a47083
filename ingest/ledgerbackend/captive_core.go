// Package ledgerbackend turns a locally-executed, trusted Stellar Core
// binary into a typed, stream-based source of per-ledger metadata, either as
// a bounded historical replay or a real-time stream of newly closed ledgers.
package ledgerbackend

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/stellar/go/support/log"
	"github.com/stellar/go/xdr"
)

// Mode is the supervisor's current state.
type Mode int

const (
	// ModeIdle means no node is running and no range is prepared.
	ModeIdle Mode = iota
	// ModeOfflineSingle is active between PrepareLedgers starting and
	// returning; callers never observe it directly.
	ModeOfflineSingle
	// ModeOfflineMulti is active from PrepareLedgersMultiThread returning
	// until Close.
	ModeOfflineMulti
	// ModeOnline is active from StartOnlineNoRange returning until Close.
	ModeOnline
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeOfflineSingle:
		return "OfflineSingle"
	case ModeOfflineMulti:
		return "OfflineMulti"
	case ModeOnline:
		return "Online"
	default:
		return "Unknown"
	}
}

// CaptiveCore is the public façade described by the spec: it binds
// config→toml→scratch→pipe→runner→reader→delivery and enforces the mode
// invariants. At most one active mode is live per instance at a time.
type CaptiveCore struct {
	cfg     IngestionConfig
	network Network

	mu   sync.Mutex
	mode Mode

	scratch *scratchDir
	pipe    *fifoPipe
	runner  *runner
	reader  *framedReader

	readerDone chan struct{}

	store *ledgerStore
	sink  *channelSink

	metricsRegistry metricsRegistry

	log *log.Entry
}

// NewCaptiveCore validates cfg and returns a CaptiveCore in ModeIdle.
func NewCaptiveCore(cfg IngestionConfig) (*CaptiveCore, error) {
	net, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &CaptiveCore{
		cfg:     cfg,
		network: net,
		mode:    ModeIdle,
		log:     log.New().WithField("service", "captive-core"),
	}, nil
}

// WithMetrics enables Prometheus instrumentation on the delivery channel of
// subsequent multi-threaded/online prepares. A session that is already
// running keeps the sink it was started with; the registry takes effect from
// the next such entry point.
func (c *CaptiveCore) WithMetrics(registry metricsRegistry) *CaptiveCore {
	c.metricsRegistry = registry
	return c
}

// Mode returns the supervisor's current mode.
func (c *CaptiveCore) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// open implements the entry ordering common to all three non-idle modes:
// scratch dir created, pipe created, node spawned, reader started.
func (c *CaptiveCore) open(mode Mode, r Range) (rawOut chan MetaResult, err error) {
	if c.mode != ModeIdle {
		return nil, newErr(KindWrongMode, fmt.Sprintf("captive core is in mode %s, not Idle", c.mode))
	}

	scratch, err := newScratchDir(c.cfg.contextPath())
	if err != nil {
		return nil, err
	}

	pipe, err := createPipe(scratch.pipePath())
	if err != nil {
		scratch.remove()
		return nil, err
	}

	tomlPath, err := writeToml(c.network, scratch.path, pipe.path)
	if err != nil {
		scratch.remove()
		return nil, err
	}

	rn := newRunner(c.cfg.ExecutablePath, tomlPath, pipe.path)

	runnerMode := runnerModeOnline
	if r.bounded {
		runnerMode = runnerModeOffline
	}
	if err := rn.start(runnerMode, r.from, r.to); err != nil {
		scratch.remove()
		return nil, err
	}

	if err := pipe.openRead(); err != nil {
		rn.terminate()
		scratch.remove()
		return nil, err
	}

	rawOut = make(chan MetaResult)
	fr := newFramedReader(pipe.file, rawOut, c.cfg.Staggered)
	readerDone := make(chan struct{})
	go func() {
		fr.run()
		close(readerDone)
	}()

	go watchRunner(c.log, rn)

	c.scratch = scratch
	c.pipe = pipe
	c.runner = rn
	c.reader = fr
	c.readerDone = readerDone
	c.mode = mode
	runtime.SetFinalizer(c, (*CaptiveCore).finalize)

	return rawOut, nil
}

// watchRunner logs a node exit with an error. It runs in every mode; in
// offline single-threaded mode PrepareLedgers additionally awaits the exit
// itself and reports it as KindNodeFailed (see PrepareLedgers). For the two
// modes that return control to the caller immediately, there is no
// remaining channel slot to deliver a NodeFailed error through once the
// delivery channel has already closed, so it is surfaced as a log line.
// It holds only the logger, not the CaptiveCore, so a dropped supervisor
// stays collectable and its finalizer can run while the node is alive.
func watchRunner(l *log.Entry, r *runner) {
	<-r.exitChan()
	if err := r.exitErr(); err != nil {
		l.WithField("component", "runner").Errorf("node exited unexpectedly: %v", err)
	}
}

// teardown implements the exit ordering common to all three non-idle modes:
// reader stopped, node terminated, pipe unlinked, scratch dir removed.
func (c *CaptiveCore) teardown() error {
	var firstErr error
	setErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.reader != nil {
		c.reader.stop()
	}
	if c.pipe != nil {
		setErr(c.pipe.closeRead())
	}
	if c.readerDone != nil {
		<-c.readerDone
	}
	if c.runner != nil {
		setErr(c.runner.terminate())
	}
	if c.pipe != nil {
		setErr(c.pipe.unlink())
	}
	if c.scratch != nil {
		setErr(c.scratch.remove())
	}

	c.pipe = nil
	c.runner = nil
	c.scratch = nil
	c.reader = nil
	c.readerDone = nil
	c.store = nil
	c.sink = nil
	c.mode = ModeIdle
	runtime.SetFinalizer(c, nil)

	return firstErr
}

func (c *CaptiveCore) finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		c.log.Warn("captive core garbage collected without Close; releasing resources")
		c.teardown()
	}
}

// PrepareLedgers prepares a bounded range for offline, single-threaded,
// random-access reads via GetLedger. Close is implicit: by the time this
// call returns (success or failure), the node, pipe, and scratch directory
// have all been released.
func (c *CaptiveCore) PrepareLedgers(r Range) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !r.bounded {
		return newErr(KindConfigInvalid, "PrepareLedgers requires a bounded range")
	}
	if err := r.validate(); err != nil {
		return err
	}

	rawOut, err := c.open(ModeOfflineSingle, r)
	if err != nil {
		return err
	}

	store := newLedgerStore()
	populateErr := store.populate(rawOut)

	// The reader has already joined (rawOut is closed); the node itself
	// should be exiting cleanly right behind it. Await it directly so a
	// nonzero exit is reported as KindNodeFailed rather than silently
	// swallowed by teardown's idempotent terminate().
	runErr := c.runner.awaitOffline()

	teardownErr := c.teardown()

	switch {
	case populateErr != nil:
		return populateErr
	case runErr != nil:
		return runErr
	case teardownErr != nil:
		return teardownErr
	}

	c.store = store
	return nil
}

// PrepareLedgersMultiThread prepares a bounded range for offline,
// multi-threaded delivery via a channel. The caller must call Close once
// done draining the receiver.
func (c *CaptiveCore) PrepareLedgersMultiThread(r Range) (Receiver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !r.bounded {
		return nil, newErr(KindConfigInvalid, "PrepareLedgersMultiThread requires a bounded range")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}

	rawOut, err := c.open(ModeOfflineMulti, r)
	if err != nil {
		return nil, err
	}

	sink := newChannelSink(c.cfg.BoundedBufferSize, c.metricsRegistry)
	go sink.forward(rawOut)
	c.sink = sink

	return sink.receiver(), nil
}

// StartOnlineNoRange starts the node in unbounded mode, streaming newly
// closed ledgers from the current tip. The caller must call Close once
// done draining the receiver.
func (c *CaptiveCore) StartOnlineNoRange() (Receiver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rawOut, err := c.open(ModeOnline, UnboundedRange())
	if err != nil {
		return nil, err
	}

	sink := newChannelSink(c.cfg.BoundedBufferSize, c.metricsRegistry)
	go sink.forward(rawOut)
	c.sink = sink

	return sink.receiver(), nil
}

// GetLedger returns the decoded record for sequence, if it was covered by
// the most recent PrepareLedgers call. Precondition: mode is Idle.
func (c *CaptiveCore) GetLedger(sequence uint32) (xdr.LedgerCloseMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIdle {
		return xdr.LedgerCloseMeta{}, newErr(KindWrongMode, fmt.Sprintf("captive core is in mode %s, not Idle", c.mode))
	}
	if c.store == nil {
		return xdr.LedgerCloseMeta{}, newErr(KindOutOfRange, "no range has been prepared")
	}
	rec, ok := c.store.get(sequence)
	if !ok {
		return xdr.LedgerCloseMeta{}, newErr(KindOutOfRange, fmt.Sprintf("sequence %d not covered by the prepared range", sequence))
	}
	return rec, nil
}

// GetLatestLedgerSequence returns the highest sequence number delivered so
// far on an online or multi-threaded offline receiver. It is a convenience
// not required by the core contract; see SPEC_FULL.md's Supplemented
// Features.
func (c *CaptiveCore) GetLatestLedgerSequence() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		return 0, newErr(KindWrongMode, "no multi-threaded or online session is active")
	}
	return c.sink.latestSequence(), nil
}

// Close is idempotent: stops the reader, terminates the node (SIGTERM then
// SIGKILL after a grace window), unlinks the pipe, removes the scratch
// directory, clears the store, and returns the supervisor to ModeIdle.
// Repeat calls eventually succeed even if an earlier call reported an error.
func (c *CaptiveCore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeIdle {
		c.store = nil
		return nil
	}
	return c.teardown()
}
