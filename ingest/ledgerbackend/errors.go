package ledgerbackend

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the error taxonomy described for the captive core
// supervisor. Callers should compare on Kind rather than on error strings.
type Kind int

const (
	_ Kind = iota
	// KindConfigInvalid means IngestionConfig had a missing, non-executable
	// or directory executable path or an unrecognized network, or that a
	// range was unbounded where a bounded one is required or had from > to.
	KindConfigInvalid
	// KindScratchIO means the scratch directory could not be created or
	// removed.
	KindScratchIO
	// KindPipeIO means the FIFO could not be created, opened, or read
	// from mid-stream.
	KindPipeIO
	// KindNodeSpawn means the node subprocess could not be started.
	KindNodeSpawn
	// KindNodeFailed means an offline node run exited with a nonzero
	// status.
	KindNodeFailed
	// KindNodeKillTimeout means the node had still not been reaped a grace
	// window after SIGKILL. A node that only ignores SIGTERM is killed with
	// SIGKILL after the grace window and is not reported with this kind.
	KindNodeKillTimeout
	// KindTruncatedFrame means the pipe hit EOF in the middle of a frame.
	KindTruncatedFrame
	// KindDecode means a frame's body did not decode as ledger-close
	// metadata.
	KindDecode
	// KindWrongMode means an operation was invoked while the supervisor
	// was in an incompatible mode.
	KindWrongMode
	// KindOutOfRange means GetLedger was asked for a sequence the most
	// recent prepare call did not cover.
	KindOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindScratchIO:
		return "ScratchIO"
	case KindPipeIO:
		return "PipeIO"
	case KindNodeSpawn:
		return "NodeSpawn"
	case KindNodeFailed:
		return "NodeFailed"
	case KindNodeKillTimeout:
		return "NodeKillTimeout"
	case KindTruncatedFrame:
		return "TruncatedFrame"
	case KindDecode:
		return "Decode"
	case KindWrongMode:
		return "WrongMode"
	case KindOutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

// IngestError is the single error type returned or delivered by this
// package. Kind identifies which of the taxonomy variants applies; Cause
// carries the underlying error, if any.
type IngestError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *IngestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *IngestError) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, message string) error {
	return &IngestError{Kind: kind, Message: message}
}

func wrapErr(kind Kind, cause error, message string) error {
	if cause == nil {
		return newErr(kind, message)
	}
	return &IngestError{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// KindOf returns the Kind of err if it is (or wraps) an *IngestError, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return 0, false
}
