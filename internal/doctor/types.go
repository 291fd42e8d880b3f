package doctor

import (
	"context"
)

// Category represents a category of checks
type Category string

const (
	CategoryConfig      Category = "config"
	CategoryWallet      Category = "wallet"
	CategoryServices    Category = "services"
	CategorySystem      Category = "system"
	CategoryPermissions Category = "permissions"
)

// Status represents the result status of a check
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// CheckResult represents the result of a single check
type CheckResult struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Status     Status   `json:"status"`
	Message    string   `json:"message"`
	Details    string   `json:"details,omitempty"`
	Fixable    bool     `json:"fixable"`
	FixCommand string   `json:"fix_command,omitempty"`
}

// Checker is the interface that all checkers must implement
type Checker interface {
	// Name returns the display name of the checker
	Name() string
	// Category returns the category this checker belongs to
	Category() Category
	// Check performs the check and returns the result
	Check(ctx context.Context) CheckResult
}

// Options configures the doctor run
type Options struct {
	// JSON outputs results as JSON
	JSON bool
	// Category filters checks to a specific category
	Category Category
	// APIEndpoint overrides the API address from the config
	APIEndpoint string
	// KeystoreDir overrides the keystore directory from the config
	KeystoreDir string
}

// Report is the complete report from running all checks
type Report struct {
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Summary provides an overview of the check results
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Warned  int `json:"warned"`
	Skipped int `json:"skipped"`
	Fixable int `json:"fixable"`
}

// IsHealthy returns true if all checks passed or warned
func (s Summary) IsHealthy() bool {
	return s.Failed == 0
}

func result(c Checker) CheckResult {
	return CheckResult{Name: c.Name(), Category: c.Category()}
}

func (r CheckResult) ok(msg string) CheckResult {
	r.Status, r.Message = StatusOK, msg
	return r
}

func (r CheckResult) warn(msg, details string) CheckResult {
	r.Status, r.Message, r.Details = StatusWarning, msg, details
	return r
}

func (r CheckResult) fail(msg, details string) CheckResult {
	r.Status, r.Message, r.Details = StatusError, msg, details
	return r
}

func (r CheckResult) skip(msg string) CheckResult {
	r.Status, r.Message = StatusSkipped, msg
	return r
}

func (r CheckResult) fix(cmd string) CheckResult {
	r.Fixable, r.FixCommand = true, cmd
	return r
}
