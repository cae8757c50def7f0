package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// runBasic executes argv as a direct subprocess in its own process
// group. A monitor goroutine polls resident memory and CPU time; it and
// the timing-out waiter both converge on a single idempotent
// process-group kill, so neither path can race the other into an
// inconsistent state.
func (s *Sandbox) runBasic(ctx context.Context, argv []string, timeout time.Duration, res *Result) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + s.workDir,
		"TMPDIR=" + s.workDir,
	}

	var stdout, stderr boundedBuffer
	stdout.limit = maxCapturedOutput
	stderr.limit = maxCapturedOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		res.Success = false
		res.Error = fmt.Sprintf("failed to start process: %v", err)
		res.Log = append(res.Log, res.Error)
		s.setState(StateFailed)
		return
	}
	pid := cmd.Process.Pid
	res.Log = append(res.Log, fmt.Sprintf("process started pid=%d", pid))

	// Both the monitor and the waiter call kill; sync.Once makes the
	// process-group termination idempotent.
	var killOnce sync.Once
	var killReason atomic.Value
	kill := func(reason string) {
		killOnce.Do(func() {
			killReason.Store(reason)
			// Negative pid signals the whole process group, so no
			// child survives the parent.
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		})
	}

	var peakRSS atomic.Int64
	var limitHit atomic.Bool
	monitorStop := make(chan struct{})
	monitorDone := make(chan struct{})
	go s.monitor(pid, kill, &peakRSS, &limitHit, monitorStop, monitorDone)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(timeout):
		timedOut = true
		kill(fmt.Sprintf("wall time limit %s exceeded", timeout))
		waitErr = <-done
	case <-ctx.Done():
		kill("execution context canceled")
		waitErr = <-done
	}

	close(monitorStop)
	<-monitorDone

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.PeakMemoryBytes = peakRSS.Load()
	if cmd.ProcessState != nil {
		res.ReturnCode = cmd.ProcessState.ExitCode()
	}
	if reason, ok := killReason.Load().(string); ok {
		res.Log = append(res.Log, reason)
	}

	switch {
	case timedOut:
		res.Success = false
		res.ResourceLimitsExceeded = true
		res.ReturnCode = -1
		res.Error = "wall time limit exceeded"
		s.setState(StateTimedOut)
	case limitHit.Load():
		res.Success = false
		res.ResourceLimitsExceeded = true
		res.ReturnCode = -1
		res.Error = "resource limit exceeded"
		s.setState(StateFailed)
	case waitErr != nil && cmd.ProcessState == nil:
		res.Success = false
		res.Error = fmt.Sprintf("wait failed: %v", waitErr)
		s.setState(StateFailed)
	default:
		res.Success = res.ReturnCode == 0
		if res.Success {
			s.setState(StateCompleted)
		} else {
			s.setState(StateFailed)
		}
	}
}

// monitor polls the child's resource usage on a short interval and
// kills the process group when a ceiling is crossed.
func (s *Sandbox) monitor(pid int, kill func(string), peakRSS *atomic.Int64, limitHit *atomic.Bool, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if mem, err := proc.MemoryInfo(); err == nil {
			rss := int64(mem.RSS)
			if rss > peakRSS.Load() {
				peakRSS.Store(rss)
			}
			if s.limits.MemoryBytes > 0 && rss > s.limits.MemoryBytes {
				limitHit.Store(true)
				kill(fmt.Sprintf("memory limit exceeded: rss=%d limit=%d", rss, s.limits.MemoryBytes))
				return
			}
		}

		if times, err := proc.Times(); err == nil && s.limits.CPUTime > 0 {
			used := time.Duration((times.User + times.System) * float64(time.Second))
			if used > s.limits.CPUTime {
				limitHit.Store(true)
				kill(fmt.Sprintf("cpu time limit exceeded: used=%s limit=%s", used, s.limits.CPUTime))
				return
			}
		}

		if s.limits.MaxProcesses > 0 {
			if children, err := proc.Children(); err == nil && len(children)+1 > s.limits.MaxProcesses {
				limitHit.Store(true)
				kill(fmt.Sprintf("process count limit exceeded: %d", len(children)+1))
				return
			}
		}
	}
}

// boundedBuffer captures process output while retaining at most limit
// bytes: the head is kept verbatim and the tail is a sliding window, so
// oversized output truncates in the middle rather than growing without
// bound.
type boundedBuffer struct {
	mu    sync.Mutex
	limit int
	head  []byte
	tail  []byte
	total int64
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.total += int64(n)

	half := b.limit / 2
	if len(b.head) < half {
		take := half - len(b.head)
		if take > len(p) {
			take = len(p)
		}
		b.head = append(b.head, p[:take]...)
		p = p[take:]
	}
	if len(p) > 0 {
		b.tail = append(b.tail, p...)
		if len(b.tail) > half {
			b.tail = append(b.tail[:0], b.tail[len(b.tail)-half:]...)
		}
	}
	return n, nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int64(len(b.head)+len(b.tail)) >= b.total {
		return string(b.head) + string(b.tail)
	}
	return string(b.head) + OutputTruncationMarker + string(b.tail)
}
