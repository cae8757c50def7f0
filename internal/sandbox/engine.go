// Package sandbox implements isolated command execution for untrusted
// tooling. Basic isolation runs commands in their own process group
// under a resource monitor; container isolation delegates enforcement
// to the container runtime. Routine outcomes are returned as data;
// only setup failures raise.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/metrics"
)

var (
	// ErrSetup marks sandbox setup failures: the one class of sandbox
	// problem surfaced as an error rather than a Result.
	ErrSetup = errors.New("sandbox setup failed")
	// ErrClosed is returned when a cleaned-up sandbox is used again.
	ErrClosed = errors.New("sandbox has been cleaned up")
	// ErrFileTooLarge is returned by AddFile for oversized content.
	ErrFileTooLarge = errors.New("file exceeds sandbox size limit")
)

// maxCapturedOutput caps captured stdout/stderr; larger output is
// truncated in the middle.
const maxCapturedOutput = 1 << 20

const monitorInterval = 100 * time.Millisecond

// Options configures an Engine.
type Options struct {
	BaseDir          string
	DefaultIsolation IsolationLevel
	DefaultLimits    ResourceLimits
	ContainerImage   string
	AuditLog         *audit.Logger
	Logger           *logging.Logger
}

// Engine creates sandboxes. One engine is shared across callers; each
// sandbox is single-use state.
type Engine struct {
	opts Options
	log  *logging.Logger

	dockerOnce  sync.Once
	dockerReady bool
}

// NewEngine creates a sandbox engine.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Join(os.TempDir(), "vulnscope-sandbox")
	}
	if opts.DefaultIsolation == "" {
		opts.DefaultIsolation = IsolationBasic
	}
	if opts.DefaultLimits == (ResourceLimits{}) {
		opts.DefaultLimits = DefaultLimits()
	}
	if opts.ContainerImage == "" {
		opts.ContainerImage = "alpine:3.20"
	}
	return &Engine{opts: opts, log: opts.Logger}
}

// dockerAvailable probes the container runtime once per engine.
func (e *Engine) dockerAvailable(ctx context.Context) bool {
	e.dockerOnce.Do(func() {
		probe, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		cmd := exec.CommandContext(probe, "docker", "info", "--format", "{{.ServerVersion}}")
		e.dockerReady = cmd.Run() == nil
	})
	return e.dockerReady
}

// Create builds a sandbox with the requested isolation and limits.
// Container isolation silently degrades to Basic when the runtime is
// unreachable; VM isolation is rejected as unimplemented.
func (e *Engine) Create(ctx context.Context, isolation IsolationLevel, limits *ResourceLimits, name string) (*Sandbox, error) {
	if isolation == "" {
		isolation = e.opts.DefaultIsolation
	}
	if isolation == IsolationVM {
		return nil, fmt.Errorf("%w: vm isolation is not implemented", ErrSetup)
	}

	effective := e.opts.DefaultLimits
	if limits != nil {
		effective = *limits
	}

	if isolation == IsolationContainer && !e.dockerAvailable(ctx) {
		e.log.WarnContext(ctx, "container runtime unreachable, falling back to basic isolation",
			"sandbox_name", name)
		isolation = IsolationBasic
	}

	id := uuid.New().String()[:8]
	if name != "" {
		id = name + "-" + id
	}
	workDir := filepath.Join(e.opts.BaseDir, id)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: cannot create working directory: %v", ErrSetup, err)
	}

	s := &Sandbox{
		ID:        id,
		isolation: isolation,
		limits:    effective,
		workDir:   workDir,
		image:     e.opts.ContainerImage,
		auditLog:  e.opts.AuditLog,
		log:       e.log,
		state:     StateInitialized,
	}
	e.log.DebugContext(ctx, "sandbox created",
		"sandbox_id", id, "isolation", string(isolation), "work_dir", workDir)
	return s, nil
}

// Sandbox is one isolated execution environment.
type Sandbox struct {
	ID string

	isolation IsolationLevel
	limits    ResourceLimits
	workDir   string
	image     string
	auditLog  *audit.Logger
	log       *logging.Logger

	mu    sync.Mutex
	state State
}

// State returns the sandbox's current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Isolation returns the effective isolation level (after any fallback).
func (s *Sandbox) Isolation() IsolationLevel { return s.isolation }

// WorkDir returns the sandbox working directory.
func (s *Sandbox) WorkDir() string { return s.workDir }

func (s *Sandbox) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// resolvePath confines a relative path to the working directory.
func (s *Sandbox) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be relative: %q", path)
	}
	full := filepath.Join(s.workDir, path)
	if !strings.HasPrefix(full, s.workDir+string(filepath.Separator)) && full != s.workDir {
		return "", fmt.Errorf("path escapes sandbox: %q", path)
	}
	return full, nil
}

// AddFile stages content into the sandbox before execution.
func (s *Sandbox) AddFile(path string, content []byte) error {
	if s.State() == StateCleanedUp {
		return ErrClosed
	}
	if int64(len(content)) > s.limits.MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(content))
	}
	full, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}
	if err := os.WriteFile(full, content, 0o600); err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}
	return nil
}

// GetFile reads a file out of the sandbox after execution. Returns
// fs.ErrNotExist when the file is absent.
func (s *Sandbox) GetFile(path string) ([]byte, error) {
	if s.State() == StateCleanedUp {
		return nil, ErrClosed
	}
	full, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// snapshotFiles records relative path → mtime for change detection.
func (s *Sandbox) snapshotFiles() map[string]time.Time {
	snap := make(map[string]time.Time)
	_ = filepath.WalkDir(s.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.workDir, path)
		if err != nil {
			return nil
		}
		snap[rel] = info.ModTime()
		return nil
	})
	return snap
}

func diffSnapshots(before, after map[string]time.Time) (created, modified []string) {
	for path, mtime := range after {
		prev, existed := before[path]
		switch {
		case !existed:
			created = append(created, path)
		case mtime.After(prev):
			modified = append(modified, path)
		}
	}
	return created, modified
}

// ExecuteCommand runs argv inside the sandbox. A non-zero timeout
// overrides the configured wall-time ceiling. Every execution, whatever
// the outcome, yields a Result and an audit event; errors are reserved
// for using a sandbox past cleanup.
func (s *Sandbox) ExecuteCommand(ctx context.Context, argv []string, timeout time.Duration) (*Result, error) {
	if s.State() == StateCleanedUp {
		return nil, ErrClosed
	}
	res := &Result{SandboxID: s.ID, ReturnCode: -1}
	if len(argv) == 0 {
		res.Error = "empty command"
		s.setState(StateFailed)
		s.auditExecution(ctx, argv, res)
		return res, nil
	}

	if timeout <= 0 {
		timeout = s.limits.WallTime
	}

	before := s.snapshotFiles()
	s.setState(StateExecuting)
	start := time.Now()

	switch s.isolation {
	case IsolationContainer:
		s.runContainer(ctx, argv, timeout, res)
	default:
		s.runBasic(ctx, argv, timeout, res)
	}

	res.ExecutionTime = time.Since(start)
	res.Stdout = truncateMiddle(res.Stdout, maxCapturedOutput)
	res.Stderr = truncateMiddle(res.Stderr, maxCapturedOutput)
	res.CreatedFiles, res.ModifiedFiles = diffSnapshots(before, s.snapshotFiles())

	outcome := "completed"
	switch {
	case s.State() == StateTimedOut:
		outcome = "timed_out"
	case !res.Success:
		outcome = "failed"
	}
	metrics.SandboxExecutionsTotal.WithLabelValues(string(s.isolation), outcome).Inc()
	metrics.SandboxExecutionDuration.Observe(res.ExecutionTime.Seconds())

	s.auditExecution(ctx, argv, res)
	return res, nil
}

func (s *Sandbox) auditExecution(ctx context.Context, argv []string, res *Result) {
	if s.auditLog == nil {
		return
	}
	level := audit.LevelInfo
	if !res.Success {
		level = audit.LevelWarning
	}
	if err := s.auditLog.Log(ctx, &audit.Event{
		Type:       audit.EventSandboxExecution,
		Component:  "sandbox",
		Level:      level,
		Success:    res.Success,
		ResourceID: s.ID,
		Details: map[string]any{
			"command":         strings.Join(argv, " "),
			"isolation":       string(s.isolation),
			"return_code":     res.ReturnCode,
			"execution_ms":    res.ExecutionTime.Milliseconds(),
			"peak_memory":     res.PeakMemoryBytes,
			"limits_exceeded": res.ResourceLimitsExceeded,
		},
	}); err != nil {
		s.log.WarnContext(ctx, "failed to audit sandbox execution", "error", err)
	}
}

// Cleanup removes the working directory (and container state, for
// container isolation). Safe to call multiple times and must run on
// every exit path, including after failed executions.
func (s *Sandbox) Cleanup() error {
	s.mu.Lock()
	if s.state == StateCleanedUp {
		s.mu.Unlock()
		return nil
	}
	s.state = StateCleanedUp
	s.mu.Unlock()

	if s.isolation == IsolationContainer {
		s.removeContainer(context.Background())
	}
	if err := os.RemoveAll(s.workDir); err != nil {
		return fmt.Errorf("failed to remove sandbox directory: %w", err)
	}
	return nil
}
