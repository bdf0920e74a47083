package ledgerbackend

import (
	"os"

	"github.com/google/uuid"
)

// scratchDir is a scoped acquisition of a per-run working directory. It is
// owned exclusively by a single CaptiveCore instance, which calls remove()
// on Close, at the end of PrepareLedgers, on the error paths of entering a
// mode, and from its GC finalizer. No recover() guard calls it when a
// goroutine panics.
type scratchDir struct {
	path string
}

func newScratchDir(contextPath string) (*scratchDir, error) {
	path := contextPath + "/rs_ingestion_temp_" + uuid.New().String()
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, wrapErr(KindScratchIO, err, "creating scratch directory")
	}
	if err := os.MkdirAll(path+"/buckets", 0700); err != nil {
		os.RemoveAll(path)
		return nil, wrapErr(KindScratchIO, err, "creating buckets directory")
	}
	return &scratchDir{path: path}, nil
}

func (s *scratchDir) pipePath() string {
	return s.path + "/meta.pipe"
}

func (s *scratchDir) remove() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.RemoveAll(s.path); err != nil {
		return wrapErr(KindScratchIO, err, "removing scratch directory")
	}
	s.path = ""
	return nil
}
