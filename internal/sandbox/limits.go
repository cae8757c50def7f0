package sandbox

import "time"

// IsolationLevel is the degree of OS separation given to an execution.
type IsolationLevel string

const (
	// IsolationBasic runs the command as a direct subprocess in its own
	// process group, with limits enforced by a monitor.
	IsolationBasic IsolationLevel = "basic"
	// IsolationContainer runs the command in a throwaway container with
	// limits enforced by the container runtime.
	IsolationContainer IsolationLevel = "container"
	// IsolationVM is defined but not implemented.
	IsolationVM IsolationLevel = "vm"
)

// ResourceLimits are the ceilings applied to one sandbox.
type ResourceLimits struct {
	MemoryBytes   int64         `json:"memory_bytes"`
	CPUTime       time.Duration `json:"cpu_time"`
	WallTime      time.Duration `json:"wall_time"`
	DiskBytes     int64         `json:"disk_bytes"`
	NetworkAccess bool          `json:"network_access"`
	MaxProcesses  int           `json:"max_processes"`
	MaxFileSize   int64         `json:"max_file_size"`
}

// DefaultLimits returns the stock resource ceilings.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes:   512 << 20,
		CPUTime:       60 * time.Second,
		WallTime:      30 * time.Second,
		DiskBytes:     1 << 30,
		NetworkAccess: false,
		MaxProcesses:  32,
		MaxFileSize:   10 << 20,
	}
}

// State of a sandbox through its lifecycle.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateExecuting   State = "executing"
	StateCompleted   State = "completed"
	StateTimedOut    State = "timed_out"
	StateFailed      State = "failed"
	StateCleanedUp   State = "cleaned_up"
)
