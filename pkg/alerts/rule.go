package alerts

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sachinkoro/logarte/pkg/entry"
)

// Type selects which evaluation a rule performs.
type Type string

const (
	TypeAPIFailure      Type = "apiFailure"
	TypeSlowResponse    Type = "slowResponse"
	TypeCrashDetected   Type = "crashDetected"
	TypeCustomThreshold Type = "customThreshold"

	// TypeHighErrorRate is reserved. Rules of this type are accepted and
	// never evaluated.
	TypeHighErrorRate Type = "highErrorRate"
)

// Severity orders notifications for downstream consumers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rule defines one alert condition. Rules are value objects: the engine
// copies what it needs at construction, so mutating a Rule after New or
// UpdateRules has no effect.
type Rule struct {
	// ID uniquely identifies the rule; it is the cooldown key.
	ID string

	Type        Type
	Severity    Severity
	Name        string
	Description string
	Enabled     bool

	// apiFailure parameters.
	FailureThreshold int
	TimeWindow       time.Duration
	StatusCodes      []int
	EndpointPattern  *regexp.Regexp

	// slowResponse parameter.
	SlowThreshold time.Duration

	// customThreshold predicate. Runs synchronously inside Ingest; panics
	// are contained and logged.
	Condition func(entry.Entry) bool
}

// validate reports why a rule cannot be evaluated. Invalid rules are
// disabled with a warning at construction; they never fail the engine.
func (r Rule) validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Severity != "" && !r.Severity.valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	switch r.Type {
	case TypeAPIFailure:
		if r.FailureThreshold <= 0 {
			return fmt.Errorf("apiFailure rule %q: failure threshold must be positive", r.ID)
		}
		if r.TimeWindow <= 0 {
			return fmt.Errorf("apiFailure rule %q: time window must be positive", r.ID)
		}
		if len(r.StatusCodes) == 0 {
			return fmt.Errorf("apiFailure rule %q: at least one status code to monitor", r.ID)
		}
	case TypeSlowResponse:
		if r.SlowThreshold <= 0 {
			return fmt.Errorf("slowResponse rule %q: slow threshold must be positive", r.ID)
		}
	case TypeCrashDetected:
	case TypeCustomThreshold:
		if r.Condition == nil {
			return fmt.Errorf("customThreshold rule %q: condition is required", r.ID)
		}
	case TypeHighErrorRate:
		// Reserved type: structurally valid, never evaluated.
	default:
		return fmt.Errorf("rule %q: unknown type %q", r.ID, r.Type)
	}
	return nil
}

// compiledRule is a Rule plus the derived lookup structures the engine
// evaluates against.
type compiledRule struct {
	Rule
	statusSet map[int]struct{}
}

func compileRule(r Rule) *compiledRule {
	c := &compiledRule{Rule: r}
	if len(r.StatusCodes) > 0 {
		c.statusSet = make(map[int]struct{}, len(r.StatusCodes))
		for _, code := range r.StatusCodes {
			c.statusSet[code] = struct{}{}
		}
	}
	if c.Severity == "" {
		c.Severity = SeverityMedium
	}
	return c
}
