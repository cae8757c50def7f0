// Package audit implements the tamper-evident audit log. Events are
// checksummed, optionally encrypted at rest, and appended to one file
// per UTC calendar day. Queries recompute every checksum and silently
// drop records that fail verification.
package audit

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/metrics"
)

const (
	filePrefix     = "audit-"
	fileSuffix     = ".log"
	fileDateLayout = "2006-01-02"
	encPrefix      = "ENC:"
)

// Publisher is the subset of the event bus the logger publishes to.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// SubjectAuditEvent is the bus subject audit events are mirrored to.
const SubjectAuditEvent = "vulnscope.audit.event"

// Options configures a Logger.
type Options struct {
	Enabled       bool
	Directory     string
	Encrypt       bool
	RetentionDays int

	// Crypto is required for Encrypt and for reading encrypted lines.
	Crypto *crypto.Manager

	// Bus, when non-nil, receives a copy of every event.
	Bus Publisher

	Logger *logging.Logger
}

// Logger appends checksummed events to per-day files. Appends to the
// same day's file are serialized; different days proceed independently.
type Logger struct {
	opts Options
	log  *logging.Logger

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// NewLogger creates a Logger and ensures the audit directory exists.
func NewLogger(opts Options) (*Logger, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Enabled {
		if err := os.MkdirAll(opts.Directory, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		if opts.Encrypt && opts.Crypto == nil {
			return nil, errors.New("audit encryption requires an encryption manager")
		}
	}
	return &Logger{
		opts:      opts,
		log:       opts.Logger,
		fileLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Enabled reports whether events are being recorded.
func (l *Logger) Enabled() bool { return l.opts.Enabled }

func (l *Logger) lockFor(filename string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.fileLocks[filename]
	if !ok {
		lock = &sync.Mutex{}
		l.fileLocks[filename] = lock
	}
	return lock
}

// Log records one event. The event is assigned an id and timestamp if
// missing, checksummed, and appended as a single line to the file for
// its UTC date. A disabled logger drops events without error.
func (l *Logger) Log(ctx context.Context, e *Event) error {
	if !l.opts.Enabled {
		return nil
	}
	e.fill()
	if e.SessionID == "" {
		e.SessionID = logging.SessionID(ctx)
	}

	checksum, err := e.ComputeChecksum()
	if err != nil {
		return fmt.Errorf("failed to checksum audit event: %w", err)
	}
	e.Checksum = checksum

	line, err := l.encodeLine(e)
	if err != nil {
		return err
	}

	filename := l.fileFor(e.Timestamp)
	lock := l.lockFor(filename)
	lock.Lock()
	err = appendLine(filename, line)
	lock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	metrics.AuditEventsTotal.WithLabelValues(e.Component, string(e.Level)).Inc()

	if l.opts.Bus != nil {
		if data, merr := marshalEvent(e); merr == nil {
			if perr := l.opts.Bus.Publish(ctx, SubjectAuditEvent, data); perr != nil {
				l.log.WarnContext(ctx, "audit event publish failed", "error", perr)
			}
		}
	}
	return nil
}

func (l *Logger) encodeLine(e *Event) (string, error) {
	data, err := marshalEvent(e)
	if err != nil {
		return "", fmt.Errorf("failed to serialize audit event: %w", err)
	}
	if !l.opts.Encrypt {
		return string(data), nil
	}
	env, err := l.opts.Crypto.Encrypt(data, crypto.ClassificationConfidential)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt audit event: %w", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		return "", err
	}
	return encPrefix + hex.EncodeToString(raw), nil
}

func (l *Logger) decodeLine(line string) (*Event, error) {
	if strings.HasPrefix(line, encPrefix) {
		if l.opts.Crypto == nil {
			return nil, errors.New("encrypted audit line without encryption manager")
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(line, encPrefix))
		if err != nil {
			return nil, fmt.Errorf("malformed encrypted audit line: %w", err)
		}
		env, err := crypto.ParseEnvelope(raw)
		if err != nil {
			return nil, err
		}
		data, err := l.opts.Crypto.Decrypt(env)
		if err != nil {
			return nil, err
		}
		return unmarshalEvent(data)
	}
	return unmarshalEvent([]byte(line))
}

func (l *Logger) fileFor(ts time.Time) string {
	name := filePrefix + ts.UTC().Format(fileDateLayout) + fileSuffix
	return filepath.Join(l.opts.Directory, name)
}

func appendLine(filename, line string) error {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// Filter selects events during a query. Zero values match everything.
type Filter struct {
	Start       time.Time
	End         time.Time
	Type        string
	PrincipalID string
	Component   string
	Level       Level
	ResourceID  string
	Success     *bool
}

func (f Filter) matches(e *Event) bool {
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// Query scans the day files covered by the filter's time range and
// returns matching events in timestamp order. Records whose checksum
// does not verify are skipped with a warning; a corrupted line never
// fails the query.
func (l *Logger) Query(ctx context.Context, f Filter) ([]*Event, error) {
	files, err := l.filesInRange(f.Start, f.End)
	if err != nil {
		return nil, err
	}

	var results []*Event
	for _, filename := range files {
		events, err := l.scanFile(ctx, filename, f)
		if err != nil {
			return nil, err
		}
		results = append(results, events...)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	return results, nil
}

func (l *Logger) scanFile(ctx context.Context, filename string, f Filter) ([]*Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, err := l.decodeLine(line)
		if err != nil {
			l.log.WarnContext(ctx, "skipping unreadable audit line",
				"file", filepath.Base(filename), "error", err)
			metrics.AuditChecksumFailuresTotal.Inc()
			continue
		}
		if !e.VerifyChecksum() {
			l.log.WarnContext(ctx, "skipping audit record with checksum mismatch",
				"file", filepath.Base(filename), "event_id", e.ID)
			metrics.AuditChecksumFailuresTotal.Inc()
			continue
		}
		if f.matches(e) {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", filename, err)
	}
	return events, nil
}

// filesInRange lists day files whose filename date intersects the
// [start, end] range. A zero bound is unbounded on that side.
func (l *Logger) filesInRange(start, end time.Time) ([]string, error) {
	entries, err := os.ReadDir(l.opts.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		date, ok := parseFileDate(name)
		if !ok {
			continue
		}
		if !start.IsZero() && date.Before(start.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !end.IsZero() && date.After(end.UTC()) {
			continue
		}
		files = append(files, filepath.Join(l.opts.Directory, name))
	}
	sort.Strings(files)
	return files, nil
}

func parseFileDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	date, err := time.Parse(fileDateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// CleanOldLogs deletes day files older than the retention window,
// judged by filename date. Returns the number of files removed.
func (l *Logger) CleanOldLogs(ctx context.Context) (int, error) {
	if l.opts.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.opts.RetentionDays)

	entries, err := os.ReadDir(l.opts.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		date, ok := parseFileDate(entry.Name())
		if !ok || !date.Before(cutoff) {
			continue
		}
		path := filepath.Join(l.opts.Directory, entry.Name())
		if err := os.Remove(path); err != nil {
			l.log.WarnContext(ctx, "failed to remove expired audit file",
				"file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
