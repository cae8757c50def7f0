// Package compliance implements the requirement registry, validator
// execution, and report generation.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/metrics"
)

var (
	ErrUnknownRequirement = errors.New("unknown requirement")
	ErrUnknownValidator   = errors.New("unknown validator")
)

// StateProvider supplies the configuration snapshot validators read.
type StateProvider func() State

// Engine runs compliance validations and records violations.
type Engine struct {
	state    StateProvider
	auditLog *audit.Logger
	log      *logging.Logger

	mu           sync.RWMutex
	requirements map[string]*Requirement
	validators   map[ValidatorID]ValidatorFunc
	violations   []*Violation
}

// NewEngine creates an Engine preloaded with the built-in validators
// and the default requirement set.
func NewEngine(state StateProvider, auditLog *audit.Logger, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	e := &Engine{
		state:        state,
		auditLog:     auditLog,
		log:          log,
		requirements: make(map[string]*Requirement),
		validators:   builtinValidators(),
	}
	for _, req := range DefaultRequirements() {
		e.requirements[req.ID] = req
	}
	return e
}

// RegisterValidator adds or replaces a validator.
func (e *Engine) RegisterValidator(id ValidatorID, fn ValidatorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators[id] = fn
}

// RegisterRequirement adds or replaces a requirement. The referenced
// validator must already be registered.
func (e *Engine) RegisterRequirement(req *Requirement) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.validators[req.Validator]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownValidator, req.Validator)
	}
	e.requirements[req.ID] = req
	return nil
}

// LoadRequirementsFile replaces the default requirement set with the
// contents of a YAML file.
func (e *Engine) LoadRequirementsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read requirements file: %w", err)
	}
	var reqs []*Requirement
	if err := yaml.Unmarshal(raw, &reqs); err != nil {
		return fmt.Errorf("failed to parse requirements file: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, req := range reqs {
		if _, ok := e.validators[req.Validator]; !ok {
			return fmt.Errorf("%w: %q (requirement %s)", ErrUnknownValidator, req.Validator, req.ID)
		}
	}
	e.requirements = make(map[string]*Requirement, len(reqs))
	for _, req := range reqs {
		e.requirements[req.ID] = req
	}
	return nil
}

// ValidateRequirement runs one requirement's validator. A failed
// validation records exactly one new violation.
func (e *Engine) ValidateRequirement(ctx context.Context, id string) (*Result, error) {
	e.mu.RLock()
	req, ok := e.requirements[id]
	var fn ValidatorFunc
	if ok {
		fn = e.validators[req.Validator]
	}
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequirement, id)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownValidator, req.Validator)
	}

	compliant, evidence := fn(ctx, e.state(), req.Params)
	result := &Result{RequirementID: id, Compliant: compliant, Evidence: evidence}

	if compliant {
		metrics.ComplianceChecksTotal.WithLabelValues("pass").Inc()
		return result, nil
	}
	metrics.ComplianceChecksTotal.WithLabelValues("fail").Inc()

	violation := &Violation{
		ID:             uuid.New().String(),
		RequirementID:  req.ID,
		Component:      "compliance",
		Message:        fmt.Sprintf("requirement %s (%s) not met", req.ID, req.Name),
		Severity:       req.Severity,
		Evidence:       evidence,
		Recommendation: req.Recommendation,
		Timestamp:      time.Now().UTC(),
	}

	e.mu.Lock()
	e.violations = append(e.violations, violation)
	e.mu.Unlock()

	if err := e.auditLog.Log(ctx, &audit.Event{
		Type:       audit.EventComplianceViolation,
		Component:  "compliance",
		Level:      audit.LevelWarning,
		Success:    false,
		ResourceID: req.ID,
		Details: map[string]any{
			"violation_id": violation.ID,
			"severity":     string(violation.Severity),
			"evidence":     evidence,
		},
	}); err != nil {
		e.log.WarnContext(ctx, "failed to audit compliance violation", "error", err)
	}

	return result, nil
}

// ValidateAll runs every requirement matching the optional standard and
// category filters and returns a per-id result map.
func (e *Engine) ValidateAll(ctx context.Context, standard, category string) (map[string]*Result, error) {
	e.mu.RLock()
	var ids []string
	for id, req := range e.requirements {
		if standard != "" && req.Standard != standard {
			continue
		}
		if category != "" && req.Category != category {
			continue
		}
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	results := make(map[string]*Result, len(ids))
	for _, id := range ids {
		result, err := e.ValidateRequirement(ctx, id)
		if err != nil {
			return nil, err
		}
		results[id] = result
	}
	return results, nil
}

// Violations returns a copy of all recorded violations.
func (e *Engine) Violations() []*Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Violation, len(e.violations))
	copy(out, e.violations)
	return out
}

// GenerateReport validates everything and aggregates pass/fail counts
// into a percentage score grouped by category.
func (e *Engine) GenerateReport(ctx context.Context) (*Report, error) {
	results, err := e.ValidateAll(ctx, "", "")
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		ByCategory:  make(map[string]CategoryStats),
	}
	e.mu.RLock()
	for id, result := range results {
		req := e.requirements[id]
		stats := report.ByCategory[req.Category]
		stats.Total++
		report.Total++
		if result.Compliant {
			stats.Passed++
			report.Passed++
		} else {
			stats.Failed++
			report.Failed++
		}
		report.ByCategory[req.Category] = stats
	}
	e.mu.RUnlock()

	if report.Total > 0 {
		report.Score = 100 * float64(report.Passed) / float64(report.Total)
	}
	report.Violations = e.Violations()
	return report, nil
}
