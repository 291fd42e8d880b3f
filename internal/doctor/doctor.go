// Package doctor checks that a node is ready to run the staking daemon:
// config, custody wallet, password sources, data directory, system limits
// and the API and RPC endpoints it depends on.
package doctor

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/moltbunker/tierstake/internal/config"
)

// Doctor orchestrates health checks for a staking node
type Doctor struct {
	checkers []Checker
	output   *Output
	writer   io.Writer
	options  Options
}

// New creates a Doctor writing to stdout with the default checkers. cfgErr
// is the error from loading the config, reported by the config check.
func New(cfg *config.Config, cfgPath string, cfgErr error, opts Options) *Doctor {
	useColors := !opts.JSON && term.IsTerminal(int(os.Stdout.Fd()))
	return NewWithWriter(cfg, cfgPath, cfgErr, opts, os.Stdout, useColors)
}

// NewWithWriter creates a Doctor with a custom writer (useful for testing)
func NewWithWriter(cfg *config.Config, cfgPath string, cfgErr error, opts Options, w io.Writer, useColors bool) *Doctor {
	d := &Doctor{
		options: opts,
		output:  NewOutput(w, useColors),
		writer:  w,
	}
	d.registerDefaultCheckers(cfg, cfgPath, cfgErr)
	return d
}

func (d *Doctor) registerDefaultCheckers(cfg *config.Config, cfgPath string, cfgErr error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	keystore := cfg.Chain.KeystoreDir
	if d.options.KeystoreDir != "" {
		keystore = d.options.KeystoreDir
	}
	endpoint := cfg.API.ListenAddr
	if d.options.APIEndpoint != "" {
		endpoint = d.options.APIEndpoint
	}

	d.checkers = []Checker{
		NewConfigChecker(cfgPath, cfgErr),
		NewOwnerChecker(cfg),
		NewWalletChecker(keystore, cfg.Chain.MockPayments),
		NewPasswordChecker(keystore, cfg.Chain.PasswordFile, cfg.Chain.MockPayments),
		NewDataDirChecker(cfg.Daemon.DataDir),
		NewFileDescriptorChecker(),
		NewAPIChecker(endpoint),
		NewRPCChecker(cfg.Chain),
	}
}

// AddChecker adds a custom checker
func (d *Doctor) AddChecker(c Checker) {
	d.checkers = append(d.checkers, c)
}

// Run executes all checks and returns a report
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Checks: make([]CheckResult, 0, len(d.checkers)),
	}

	checkers := d.filterCheckers()

	if d.options.JSON {
		for _, checker := range checkers {
			result := checker.Check(ctx)
			report.Checks = append(report.Checks, result)
			d.updateSummary(&report.Summary, result)
		}
		return report, d.outputJSON(report)
	}

	d.output.Header()
	for i, checker := range checkers {
		d.output.CheckStart(i+1, len(checkers), checker.Name())
		result := checker.Check(ctx)
		d.output.CheckResult(result)
		report.Checks = append(report.Checks, result)
		d.updateSummary(&report.Summary, result)
	}
	d.output.Summary(report.Summary)

	return report, nil
}

// filterCheckers returns checkers filtered by category if specified
func (d *Doctor) filterCheckers() []Checker {
	if d.options.Category == "" {
		return d.checkers
	}

	filtered := make([]Checker, 0)
	for _, c := range d.checkers {
		if c.Category() == d.options.Category {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// updateSummary updates the summary based on a check result
func (d *Doctor) updateSummary(summary *Summary, result CheckResult) {
	summary.Total++
	switch result.Status {
	case StatusOK:
		summary.Passed++
	case StatusError:
		summary.Failed++
		if result.Fixable {
			summary.Fixable++
		}
	case StatusWarning:
		summary.Warned++
	case StatusSkipped:
		summary.Skipped++
	}
}

func (d *Doctor) outputJSON(report *Report) error {
	enc := json.NewEncoder(d.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
