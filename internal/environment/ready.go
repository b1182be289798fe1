package environment

import (
	"strings"
	"time"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReportEvery  = 2 * time.Second
	DefaultTailLines    = 20
)

// ReadinessRule says how to recognise that a freshly started service is
// usable: one of Patterns must appear in the lower-cased tail of its log.
type ReadinessRule struct {
	Patterns     []string
	MaxWait      time.Duration
	PollInterval time.Duration
	ReportEvery  time.Duration
	TailLines    int
}

// Patterns are matched against lower-cased log text and must be lower case.
var readinessPatterns = map[Kind][]string{
	Visualization: {"created default admin", "http server listen"},
	Database:      {"database system is ready to accept connections"},
}

// Readiness returns the rule for kind bounded by maxWait.
func Readiness(kind Kind, maxWait time.Duration) ReadinessRule {
	return ReadinessRule{
		Patterns:     readinessPatterns[kind],
		MaxWait:      maxWait,
		PollInterval: DefaultPollInterval,
		ReportEvery:  DefaultReportEvery,
		TailLines:    DefaultTailLines,
	}
}

// Matches reports whether logs contain any of the rule's patterns.
func (r ReadinessRule) Matches(logs string) bool {
	lower := strings.ToLower(logs)
	for _, p := range r.Patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
