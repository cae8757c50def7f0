package sandbox

import "time"

// OutputTruncationMarker replaces the middle of oversized output.
const OutputTruncationMarker = "\n... [output truncated] ...\n"

// Result is the terminal, immutable record of one execution. Routine
// outcomes (non-zero exit, timeout, limit kill) are returned as data
// here, never as errors.
type Result struct {
	Success                bool          `json:"success"`
	Stdout                 string        `json:"stdout"`
	Stderr                 string        `json:"stderr"`
	ReturnCode             int           `json:"return_code"`
	ExecutionTime          time.Duration `json:"execution_time"`
	PeakMemoryBytes        int64         `json:"peak_memory_bytes"`
	SandboxID              string        `json:"sandbox_id"`
	Error                  string        `json:"error,omitempty"`
	ResourceLimitsExceeded bool          `json:"resource_limits_exceeded"`
	Log                    []string      `json:"log,omitempty"`
	CreatedFiles           []string      `json:"created_files,omitempty"`
	ModifiedFiles          []string      `json:"modified_files,omitempty"`
}

// truncateMiddle caps s at limit bytes, keeping the head and tail and
// splicing the marker between them.
func truncateMiddle(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	keep := limit - len(OutputTruncationMarker)
	if keep <= 0 {
		return s[:limit]
	}
	head := keep / 2
	tail := keep - head
	return s[:head] + OutputTruncationMarker + s[len(s)-tail:]
}
