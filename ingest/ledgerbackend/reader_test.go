package ledgerbackend

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go/xdr"
)

func testLedgerCloseMeta(seq uint32) xdr.LedgerCloseMeta {
	return xdr.LedgerCloseMeta{
		V: int32(0),
		V0: &xdr.LedgerCloseMetaV0{
			LedgerHeader: xdr.LedgerHeaderHistoryEntry{
				Header: xdr.LedgerHeader{
					LedgerSeq: xdr.Uint32(seq),
				},
			},
			TxSet:              xdr.TransactionSet{},
			TxProcessing:       nil,
			UpgradesProcessing: nil,
			ScpInfo:            nil,
		},
	}
}

// writeFrame encodes meta the same way the node is expected to: a 4-byte
// big-endian length prefix (with the eofBit set on the final frame of a
// run), followed by the raw XDR body.
func writeFrame(t *testing.T, w io.Writer, meta xdr.LedgerCloseMeta, last bool) {
	t.Helper()
	var body bytes.Buffer
	_, err := xdr.Marshal(&body, &meta)
	require.NoError(t, err)

	length := uint32(body.Len())
	if last {
		length |= eofBit
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], length)

	_, err = w.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = w.Write(body.Bytes())
	require.NoError(t, err)
}

func drain(out <-chan MetaResult) []MetaResult {
	var results []MetaResult
	for r := range out {
		results = append(results, r)
	}
	return results
}

func TestFramedReaderRoundTrip(t *testing.T) {
	var pipe bytes.Buffer
	writeFrame(t, &pipe, testLedgerCloseMeta(100), false)
	writeFrame(t, &pipe, testLedgerCloseMeta(101), false)
	writeFrame(t, &pipe, testLedgerCloseMeta(102), true)

	out := make(chan MetaResult)
	fr := newFramedReader(&pipe, out, 0)
	go fr.run()

	results := drain(out)
	require.Len(t, results, 3)
	for i, want := range []uint32{100, 101, 102} {
		assert.NoError(t, results[i].Err)
		assert.Equal(t, want, results[i].Sequence())
	}
}

func TestFramedReaderCleanEOFWithoutLastBit(t *testing.T) {
	var pipe bytes.Buffer
	writeFrame(t, &pipe, testLedgerCloseMeta(1), false)

	out := make(chan MetaResult)
	fr := newFramedReader(&pipe, out, 0)
	go fr.run()

	results := drain(out)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

func TestFramedReaderTruncatedLengthPrefix(t *testing.T) {
	pipe := bytes.NewReader([]byte{0x00, 0x00})

	out := make(chan MetaResult)
	fr := newFramedReader(pipe, out, 0)
	go fr.run()

	results := drain(out)
	require.Len(t, results, 1)
	kind, ok := KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, KindTruncatedFrame, kind)
}

func TestFramedReaderTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	buf.Write(lenBuf[:])
	buf.Write([]byte{1, 2, 3})

	out := make(chan MetaResult)
	fr := newFramedReader(&buf, out, 0)
	go fr.run()

	results := drain(out)
	require.Len(t, results, 1)
	kind, ok := KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, KindTruncatedFrame, kind)
}

func TestFramedReaderDecodeFailureMidStream(t *testing.T) {
	var pipe bytes.Buffer
	writeFrame(t, &pipe, testLedgerCloseMeta(1), false)

	// Splice in a frame whose body is well-framed but not valid XDR for
	// LedgerCloseMeta: an all-zero discriminant with a nonsense trailing
	// byte mismatched against the union's expected arm length.
	badBody := []byte{0x00, 0x00, 0x00, 0x00, 0xFF}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(badBody)))
	pipe.Write(lenBuf[:])
	pipe.Write(badBody)

	writeFrame(t, &pipe, testLedgerCloseMeta(2), true)

	out := make(chan MetaResult)
	fr := newFramedReader(&pipe, out, 0)
	go fr.run()

	results := drain(out)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, uint32(1), results[0].Sequence())

	// The middle frame's single byte after the discriminant cannot hold a
	// LedgerCloseMetaV0, so it is a KindDecode error; the stream must not
	// stop short on it.
	require.Error(t, results[1].Err)
	kind, ok := KindOf(results[1].Err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, kind)

	assert.NoError(t, results[2].Err)
	assert.Equal(t, uint32(2), results[2].Sequence())
}

func TestFramedReaderPipeIOError(t *testing.T) {
	out := make(chan MetaResult)
	fr := newFramedReader(&erroringReader{}, out, 0)
	go fr.run()

	results := drain(out)
	require.Len(t, results, 1)
	kind, ok := KindOf(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, KindPipeIO, kind)
}

type erroringReader struct{}

func (r *erroringReader) Read(p []byte) (int, error) {
	return 0, errPipeReset
}

var errPipeReset = &testError{"pipe reset by peer"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestFramedReaderStaggered(t *testing.T) {
	var pipe bytes.Buffer
	writeFrame(t, &pipe, testLedgerCloseMeta(1), true)

	out := make(chan MetaResult)
	fr := newFramedReader(&pipe, out, 5*time.Millisecond)

	start := time.Now()
	go fr.run()
	results := drain(out)
	elapsed := time.Since(start)

	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}
