//go:build !windows

package ledgerbackend

import (
	"os"

	"golang.org/x/sys/unix"
)

// fifoPipe is a named FIFO created inside the scratch directory before the
// node is launched. The supervisor opens the read end; the node opens the
// write end by path when it starts. A pre-created FIFO path lets us hand
// the node a stable filename via its config and avoid inheriting file
// descriptors across fork/exec. Windows/non-POSIX process control is out of
// scope; there is no fallback implementation.
type fifoPipe struct {
	path string
	file *os.File
}

func createPipe(path string) (*fifoPipe, error) {
	if err := unix.Mkfifo(path, 0600); err != nil {
		return nil, wrapErr(KindPipeIO, err, "creating metadata fifo")
	}
	return &fifoPipe{path: path}, nil
}

// openRead opens the read end of the FIFO. This blocks until the node has
// opened the write end, which is the expected ordering: the runner starts
// the node after the pipe is created, and the node opens its write end
// shortly after starting.
func (p *fifoPipe) openRead() error {
	f, err := os.OpenFile(p.path, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		return wrapErr(KindPipeIO, err, "opening metadata fifo for read")
	}
	p.file = f
	return nil
}

// closeRead closes the read end, which unblocks a goroutine blocked on
// Read() by delivering io.EOF or a closed-file error.
func (p *fifoPipe) closeRead() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return wrapErr(KindPipeIO, err, "closing metadata fifo")
	}
	return nil
}

func (p *fifoPipe) unlink() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return wrapErr(KindPipeIO, err, "removing metadata fifo")
	}
	return nil
}
