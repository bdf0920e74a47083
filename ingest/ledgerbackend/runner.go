package ledgerbackend

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stellar/go/support/log"
)

// nodeKillGrace is the window between sending SIGTERM and escalating to
// SIGKILL. The source this spec was distilled from leaves this tunable but
// undefined; this is the finite, documented constant this implementation
// picks (see SPEC_FULL.md, Open Questions).
const nodeKillGrace = 3 * time.Second

type runnerMode int

const (
	runnerModeOffline runnerMode = iota
	runnerModeOnline
)

// runner spawns, awaits, and kills the node subprocess. At most one child
// process per runner is live at a time.
type runner struct {
	executablePath string
	tomlPath       string
	pipePath       string
	log            *log.Entry

	cmd *exec.Cmd

	done    chan struct{} // closed once the child has been reaped
	waitErr error         // valid only after done is closed
}

func newRunner(executablePath, tomlPath, pipePath string) *runner {
	return &runner{
		executablePath: executablePath,
		tomlPath:       tomlPath,
		pipePath:       pipePath,
		log:            log.New().WithField("component", "runner"),
		done:           make(chan struct{}),
	}
}

func (r *runner) args(mode runnerMode, from, to uint32) []string {
	args := []string{"--conf", r.tomlPath, "run", "--in-memory"}
	if mode == runnerModeOffline {
		count := to - from + 1
		args = append(args, "--catchup", fmt.Sprintf("%d/%d", from, count))
	}
	args = append(args, "--metadata-output-stream", "fd:"+r.pipePath)
	return args
}

// start spawns the node in the given mode. For offline mode, from/to define
// the catchup window; for online mode they are ignored.
func (r *runner) start(mode runnerMode, from, to uint32) error {
	args := r.args(mode, from, to)
	r.log.Infof("starting node: %s %v", r.executablePath, args)
	cmd := exec.Command(r.executablePath, args...)
	if err := cmd.Start(); err != nil {
		return wrapErr(KindNodeSpawn, err, "starting node subprocess")
	}
	r.cmd = cmd
	go func() {
		err := cmd.Wait()
		r.waitErr = err
		close(r.done)
	}()
	return nil
}

// exitChan returns a channel closed once the node has been reaped. The
// exit error, if any, is available via exitErr() after the channel closes.
func (r *runner) exitChan() <-chan struct{} {
	return r.done
}

func (r *runner) exitErr() error {
	return r.waitErr
}

// awaitOffline blocks until the offline node run exits, returning
// KindNodeFailed if it exited nonzero.
func (r *runner) awaitOffline() error {
	<-r.done
	if r.waitErr != nil {
		return wrapErr(KindNodeFailed, r.waitErr, "node exited with an error")
	}
	return nil
}

// terminate sends SIGTERM and escalates to SIGKILL after nodeKillGrace if
// the child has not exited. It is safe to call on a runner that was never
// started or already reaped; repeated calls are safe.
func (r *runner) terminate() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	default:
	}

	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.log.Warnf("error sending SIGTERM to node: %v", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = nodeKillGrace

	waitErr := backoff.Retry(func() error {
		select {
		case <-r.done:
			return nil
		default:
			return fmt.Errorf("node still running")
		}
	}, b)

	if waitErr == nil {
		return nil
	}

	r.log.Warn("node ignored SIGTERM past grace window, sending SIGKILL")
	if err := r.cmd.Process.Kill(); err != nil {
		r.log.Warnf("error sending SIGKILL to node: %v", err)
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(nodeKillGrace):
		return newErr(KindNodeKillTimeout, "node ignored SIGKILL past grace window")
	}
}
