package domain

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType `json:"entity"`
	Action Action     `json:"action"`
	Before any        `json:"before,omitempty"`
	After  any        `json:"after,omitempty"`
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured per transaction.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated in place (by replacement).
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures check outcomes.
type Severity string

// Check severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed check evaluation.
type Violation struct {
	Check    string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the check engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// CheckViolationError is returned when blocking violations are present.
type CheckViolationError struct {
	Result Result
}

func (e CheckViolationError) Error() string {
	return "transaction blocked by checks"
}
