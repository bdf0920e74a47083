package ledgerbackend

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Network identifies which baked quorum/history-archive template the Toml
// Generator should use. Adding a network requires a new baked template and
// matching passphrase and history-archive cases in toml_data.go, plus cases
// in String and IngestionConfig.network here.
type Network int

const (
	_ Network = iota
	// Testnet is the Stellar Test Network.
	Testnet
	// Pubnet is the Stellar Public Network.
	Pubnet
)

func (n Network) String() string {
	switch n {
	case Testnet:
		return "testnet"
	case Pubnet:
		return "pubnet"
	default:
		return "unknown"
	}
}

// Range is a tagged ledger-sequence range. Use NewBoundedRange for offline
// replay and UnboundedRange for an online stream starting at the current
// tip.
type Range struct {
	bounded bool
	from    uint32
	to      uint32
}

// NewBoundedRange returns a Range covering every sequence in [from, to],
// both inclusive. Offline operations only accept bounded ranges.
func NewBoundedRange(from, to uint32) Range {
	return Range{bounded: true, from: from, to: to}
}

// UnboundedRange returns a Range that starts at from and has no end. Online
// operations only accept unbounded ranges; this library starts unbounded
// ranges at the current tip (see Non-goals: starting from a historical
// ledger is out of scope), so from is always 0 in practice.
func UnboundedRange() Range {
	return Range{bounded: false}
}

// Bounded reports whether r is a bounded range.
func (r Range) Bounded() bool { return r.bounded }

// From returns the first sequence of a bounded range.
func (r Range) From() uint32 { return r.from }

// To returns the last sequence of a bounded range.
func (r Range) To() uint32 { return r.to }

func (r Range) validate() error {
	if !r.bounded {
		return nil
	}
	if r.from > r.to {
		return newErr(KindConfigInvalid, "bounded range: from must be <= to")
	}
	return nil
}

// Count returns the number of ledgers a bounded range covers.
func (r Range) Count() uint32 {
	if !r.bounded {
		return 0
	}
	return r.to - r.from + 1
}

// IngestionConfig is the plain-value configuration accepted by
// NewCaptiveCore.
type IngestionConfig struct {
	// ExecutablePath is the absolute path to the node binary. Required,
	// must exist and be executable.
	ExecutablePath string `toml:"executable_path"`

	// ContextPath is the optional root for the scratch directory. Defaults
	// to a platform temp path (os.TempDir()/rs_ingestion_temp) when empty.
	ContextPath string `toml:"context_path"`

	// NetworkName selects the baked network template. Required.
	NetworkName string `toml:"network"`

	// BoundedBufferSize is the capacity of the delivery channel in
	// multi-threaded modes. Zero selects a fixed capacity of
	// unboundedSinkCapacity (65536) results; the channel is never truly
	// unbounded, so a consumer that falls that far behind blocks the reader.
	BoundedBufferSize uint32 `toml:"bounded_buffer_size"`

	// Staggered, if nonzero, makes the framed reader wait this long after
	// emitting each Ok frame.
	Staggered time.Duration `toml:"staggered_ms"`
}

func (c IngestionConfig) network() (Network, error) {
	switch c.NetworkName {
	case "testnet", "Testnet":
		return Testnet, nil
	case "pubnet", "Pubnet":
		return Pubnet, nil
	default:
		return 0, newErr(KindConfigInvalid, "network must be one of: testnet, pubnet")
	}
}

func (c IngestionConfig) validate() (Network, error) {
	if c.ExecutablePath == "" {
		return 0, newErr(KindConfigInvalid, "executable_path is required")
	}
	info, err := os.Stat(c.ExecutablePath)
	if err != nil {
		return 0, wrapErr(KindConfigInvalid, err, "executable_path does not exist")
	}
	if info.IsDir() {
		return 0, newErr(KindConfigInvalid, "executable_path is a directory")
	}
	if info.Mode()&0111 == 0 {
		return 0, newErr(KindConfigInvalid, "executable_path is not executable")
	}
	net, err := c.network()
	if err != nil {
		return 0, err
	}
	return net, nil
}

func (c IngestionConfig) contextPath() string {
	if c.ContextPath != "" {
		return c.ContextPath
	}
	return os.TempDir() + "/rs_ingestion_temp"
}

// LoadIngestionConfigFile decodes an IngestionConfig from a TOML file on
// disk. This is an additive convenience on top of the plain-struct contract
// of IngestionConfig; callers may just as well construct the struct
// directly.
func LoadIngestionConfigFile(path string) (IngestionConfig, error) {
	var cfg IngestionConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return IngestionConfig{}, errors.Wrap(err, "decoding ingestion config file")
	}
	// staggered_ms is a count of milliseconds; the decoder reads a bare
	// integer into a time.Duration as nanoseconds.
	if md.Type("staggered_ms") == "Integer" {
		cfg.Staggered *= time.Millisecond
	}
	return cfg, nil
}
