package ledgerbackend

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"

	"github.com/stellar/go/support/log"
	"github.com/stellar/go/xdr"
)

// eofBit is the high bit of the 4-byte big-endian frame length, reserved by
// the underlying framing convention as a "last record" marker. It must be
// masked off before the remaining bits are treated as a length: an
// implementation that skips this will allocate an absurd buffer size on the
// final frame.
const eofBit = uint32(1) << 31

// MetaResult is the unit delivered to callers: either a decoded ledger or a
// decode/IO error, tagged with enough context to correlate it with its
// position in the stream.
type MetaResult struct {
	Meta *xdr.LedgerCloseMeta
	Err  error
}

// Sequence returns the ledger sequence of a successfully decoded result, or
// zero if Err is set.
func (m MetaResult) Sequence() uint32 {
	if m.Meta == nil {
		return 0
	}
	return m.Meta.LedgerSequence()
}

// framedReader owns the read end of the pipe and decodes a lazy sequence of
// frames into MetaResults, one at a time, on a dedicated goroutine.
type framedReader struct {
	r         io.Reader
	out       chan<- MetaResult
	staggered time.Duration
	log       *log.Entry

	stopping int32 // atomic; set by the supervisor right before it closes the pipe's read end
}

// stop marks the reader as being deliberately unblocked by the supervisor,
// so the read error that closing the pipe out from under it produces is
// treated as a clean stop rather than a PipeIO/TruncatedFrame error. Safe to
// call from another goroutine.
func (fr *framedReader) stop() {
	atomic.StoreInt32(&fr.stopping, 1)
}

func (fr *framedReader) isStopping() bool {
	return atomic.LoadInt32(&fr.stopping) != 0
}

func newFramedReader(r io.Reader, out chan<- MetaResult, staggered time.Duration) *framedReader {
	return &framedReader{
		r:         r,
		out:       out,
		staggered: staggered,
		log:       log.New().WithField("component", "reader"),
	}
}

// run drains the pipe until a clean end-of-stream frame, a truncated frame,
// or a pipe I/O error, closing out exactly once when it returns. It is
// meant to run on its own goroutine so the pipe is drained promptly
// regardless of consumer speed.
func (fr *framedReader) run() {
	defer close(fr.out)

	for {
		ok, last := fr.readOneFrame()
		if !ok {
			return
		}
		if last {
			return
		}
	}
}

// readOneFrame reads and emits exactly one frame. ok is false if the reader
// should stop (clean EOF at a frame boundary, a truncated frame, a pipe
// error, or a deliberate stop); last reports whether the end-of-stream bit
// was set on this frame's length prefix, which also stops the reader, even
// when that frame failed to decode.
func (fr *framedReader) readOneFrame() (ok bool, last bool) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		if fr.isStopping() {
			return false, false
		}
		switch err {
		case io.EOF:
			// Clean end of stream at a frame boundary: either the node
			// finished without setting the last-record bit, or the pipe
			// was closed out from under us during teardown. Neither is a
			// protocol violation worth surfacing as an error.
			return false, false
		case io.ErrUnexpectedEOF:
			fr.out <- MetaResult{Err: wrapErr(KindTruncatedFrame, err, "EOF reading frame length")}
			return false, false
		default:
			fr.out <- MetaResult{Err: wrapErr(KindPipeIO, err, "reading frame length")}
			return false, false
		}
	}

	rawLen := binary.BigEndian.Uint32(lenBuf[:])
	last = rawLen&eofBit != 0
	length := rawLen &^ eofBit

	body := make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if fr.isStopping() {
			return false, last
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			fr.out <- MetaResult{Err: wrapErr(KindTruncatedFrame, err, "EOF reading frame body")}
		} else {
			fr.out <- MetaResult{Err: wrapErr(KindPipeIO, err, "reading frame body")}
		}
		return false, last
	}

	var meta xdr.LedgerCloseMeta
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &meta); err != nil {
		fr.out <- MetaResult{Err: wrapErr(KindDecode, err, "decoding frame body")}
		// The stream is still framed correctly; a decode failure does not
		// end it unless this was also the last frame.
		return true, last
	}

	fr.out <- MetaResult{Meta: &meta}
	if fr.staggered > 0 {
		time.Sleep(fr.staggered)
	}
	return true, last
}
