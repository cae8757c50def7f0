package compliance

import "time"

// Severity of a compliance violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Requirement is one registered compliance requirement bound to a named
// validator.
type Requirement struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description" json:"description"`
	Standard       string         `yaml:"standard" json:"standard"`
	Category       string         `yaml:"category" json:"category"`
	Validator      ValidatorID    `yaml:"validator" json:"validator"`
	Params         map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Severity       Severity       `yaml:"severity" json:"severity"`
	Recommendation string         `yaml:"recommendation,omitempty" json:"recommendation,omitempty"`
	References     []string       `yaml:"references,omitempty" json:"references,omitempty"`
}

// Violation records a failed validation. Append-only; created only by
// the engine.
type Violation struct {
	ID             string    `json:"id"`
	RequirementID  string    `json:"requirement_id"`
	Component      string    `json:"component"`
	Message        string    `json:"message"`
	Severity       Severity  `json:"severity"`
	Evidence       string    `json:"evidence"`
	Recommendation string    `json:"recommendation"`
	Timestamp      time.Time `json:"timestamp"`
}

// Result is the outcome of validating one requirement.
type Result struct {
	RequirementID string `json:"requirement_id"`
	Compliant     bool   `json:"compliant"`
	Evidence      string `json:"evidence"`
}

// CategoryStats aggregates pass/fail counts for one category.
type CategoryStats struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Report is the aggregate produced by GenerateReport.
type Report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Total       int                       `json:"total"`
	Passed      int                       `json:"passed"`
	Failed      int                       `json:"failed"`
	Score       float64                   `json:"score"`
	ByCategory  map[string]CategoryStats  `json:"by_category"`
	Violations  []*Violation              `json:"violations"`
}
