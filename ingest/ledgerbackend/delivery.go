package ledgerbackend

import (
	"sync/atomic"

	"github.com/stellar/go/support/log"
	"github.com/stellar/go/xdr"
)

// ledgerStore is the single-threaded offline delivery sink: a mapping from
// ledger sequence to decoded record, populated in stream order by the
// supervisor's own goroutine draining the reader's channel, before it awaits
// the child. By the time GetLedger is callable the reader has joined, so no
// lock is needed.
type ledgerStore struct {
	records map[uint32]xdr.LedgerCloseMeta
	log     *log.Entry
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{
		records: make(map[uint32]xdr.LedgerCloseMeta),
		log:     log.New().WithField("component", "ledger-store"),
	}
}

// populate drains in fully, inserting each decoded record. It returns the
// first in-stream error encountered (there is no slot in the store to carry
// an error alongside a sequence, so the error is surfaced back to the
// caller of PrepareLedgers instead, per the offline-single-thread
// propagation policy).
func (s *ledgerStore) populate(in <-chan MetaResult) error {
	var firstErr error
	for res := range in {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		seq := res.Meta.LedgerSequence()
		if _, exists := s.records[seq]; exists {
			s.log.WithField("sequence", seq).Error("duplicate ledger sequence from node, overwriting")
		}
		s.records[seq] = *res.Meta
	}
	return firstErr
}

func (s *ledgerStore) get(seq uint32) (xdr.LedgerCloseMeta, bool) {
	rec, ok := s.records[seq]
	return rec, ok
}

func (s *ledgerStore) clear() {
	s.records = make(map[uint32]xdr.LedgerCloseMeta)
}

// channelSink is the multi-threaded delivery sink used by
// PrepareLedgersMultiThread and StartOnlineNoRange: every decoded MetaResult
// is forwarded onto a channel whose capacity is bounded_buffer_size (or
// unboundedSinkCapacity if zero). Forwarding blocks if the channel is full,
// which is the entire backpressure mechanism described in the spec: the
// reader blocks on send, the node blocks on its pipe write.
type channelSink struct {
	out      chan MetaResult
	latest   uint32 // atomic
	registry metricsRegistry
}

// unboundedSinkCapacity approximates "no bound" when bounded_buffer_size is
// left at zero. Go has no literal unbounded channel; a send on a channel of
// capacity 0 would synchronize with every single receive, which is the
// opposite of unbounded, so zero is instead mapped to a buffer deep enough
// that, in practice, only a consumer that is permanently stalled blocks the
// reader.
const unboundedSinkCapacity = 1 << 16

func newChannelSink(bufferSize uint32, registry metricsRegistry) *channelSink {
	capacity := bufferSize
	if capacity == 0 {
		capacity = unboundedSinkCapacity
	}
	return &channelSink{
		out:      make(chan MetaResult, capacity),
		registry: registry,
	}
}

// forward relays every value from in to the sink's output channel, tracking
// the latest successfully delivered sequence and closing the output channel
// when in is closed (i.e. when the framed reader has stopped).
func (c *channelSink) forward(in <-chan MetaResult) {
	defer close(c.out)
	for res := range in {
		if res.Err == nil {
			atomic.StoreUint32(&c.latest, res.Sequence())
		}
		if c.registry != nil {
			c.registry.observe(res, len(c.out))
		}
		c.out <- res
	}
}

// Receiver is the bounded/unbounded channel of decoded results returned by
// the multi-threaded offline and online entry points.
type Receiver = <-chan MetaResult

func (c *channelSink) receiver() Receiver {
	return c.out
}

// latestSequence returns the highest sequence number delivered so far, or
// zero if none has been delivered yet.
func (c *channelSink) latestSequence() uint32 {
	return atomic.LoadUint32(&c.latest)
}
