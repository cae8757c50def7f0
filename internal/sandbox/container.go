package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// containerName derives the runtime-side name for this sandbox.
func (s *Sandbox) containerName() string {
	return "vulnscope-sandbox-" + s.ID
}

// runContainer executes argv in a throwaway container. Resource
// ceilings are handed to the runtime instead of a monitor: memory and
// swap are pinned to the same value so the limit is hard, the pid limit
// bounds fork storms, and the network is detached unless the sandbox
// allows it. The working directory is bind-mounted at /sandbox so
// AddFile/GetFile see the same tree the command does.
func (s *Sandbox) runContainer(ctx context.Context, argv []string, timeout time.Duration, res *Result) {
	network := "none"
	if s.limits.NetworkAccess {
		network = "bridge"
	}
	args := []string{
		"run", "--rm",
		"--name", s.containerName(),
		"--memory", strconv.FormatInt(s.limits.MemoryBytes, 10),
		"--memory-swap", strconv.FormatInt(s.limits.MemoryBytes, 10),
		"--cpus", "1",
		"--pids-limit", strconv.Itoa(s.limits.MaxProcesses),
		"--network", network,
		"-v", s.workDir + ":/sandbox",
		"-w", "/sandbox",
		s.image,
	}
	args = append(args, argv...)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr boundedBuffer
	stdout.limit = maxCapturedOutput
	stderr.limit = maxCapturedOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res.Log = append(res.Log, fmt.Sprintf("container %s image=%s network=%s", s.containerName(), s.image, network))
	err := cmd.Run()

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if runCtx.Err() == context.DeadlineExceeded {
		// CommandContext kills the docker client; the container itself
		// needs an explicit teardown.
		s.removeContainer(context.Background())
		res.Success = false
		res.ResourceLimitsExceeded = true
		res.ReturnCode = -1
		res.Error = "wall time limit exceeded"
		res.Log = append(res.Log, fmt.Sprintf("wall time limit %s exceeded, container removed", timeout))
		s.setState(StateTimedOut)
		return
	}

	if cmd.ProcessState != nil {
		res.ReturnCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case err == nil:
		res.Success = true
		s.setState(StateCompleted)
	default:
		res.Success = false
		// 137 is SIGKILL from the runtime, which under a pinned memory
		// limit means the OOM killer fired.
		if res.ReturnCode == 137 {
			res.ResourceLimitsExceeded = true
			res.Error = "memory limit exceeded"
			res.Log = append(res.Log, "container killed by runtime (exit 137)")
		}
		s.setState(StateFailed)
	}
}

// removeContainer force-removes any container left behind by this
// sandbox. Missing containers are not an error.
func (s *Sandbox) removeContainer(ctx context.Context) {
	rmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(rmCtx, "docker", "rm", "-f", s.containerName()).Run(); err != nil {
		s.log.DebugContext(ctx, "container removal returned error",
			"sandbox_id", s.ID, "error", err)
	}
}
