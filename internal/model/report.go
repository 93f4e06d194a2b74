package model

// Severity grades a validation check.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Check is one validation result.
type Check struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Count    int      `json:"count,omitempty"`
	Total    int      `json:"total,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// ValidationReport collects checks over one table.
type ValidationReport struct {
	Subject string  `json:"subject"`
	Checks  []Check `json:"checks"`
}

// Add appends a check.
func (r *ValidationReport) Add(c Check) {
	r.Checks = append(r.Checks, c)
}

// Passed is true when no error-severity check failed.
func (r *ValidationReport) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Failures returns failed checks of the given severity.
func (r *ValidationReport) Failures(sev Severity) []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == sev {
			out = append(out, c)
		}
	}
	return out
}
