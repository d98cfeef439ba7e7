// Package doctor provides health checks for Gatekeep configuration and
// runtime. Used by `gatekeep doctor` before putting an install in front of
// real users.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/config"
	"github.com/gatekeep-io/gatekeep/internal/ledger"
	"github.com/gatekeep-io/gatekeep/internal/policy"
	"github.com/gatekeep-io/gatekeep/internal/store"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which checks to run.
type Options struct {
	SkipUpstream bool // Skip planner connectivity checks (for CI/offline)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check GATEKEEP_* env vars and gatekeep.config.yaml",
		})
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkPolicy(ctx, cfg)...)
		report.Checks = append(report.Checks, checkDatabase(ctx, cfg)...)
		report.Checks = append(report.Checks, checkPlanner(ctx, cfg, opts)...)
	}

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkPolicy(ctx context.Context, cfg *config.Config) []CheckResult {
	policyPath := cfg.PolicyPath()
	if _, err := os.Stat(policyPath); err != nil {
		return []CheckResult{{
			Name: "policy_valid", Category: "policy", Status: "fail",
			Message: fmt.Sprintf("%s — file not found", policyPath),
			Fix:     "Run 'gatekeep init' to create a policy file",
		}}
	}
	pol, err := policy.Load(ctx, policyPath)
	if err != nil {
		return []CheckResult{{
			Name: "policy_valid", Category: "policy", Status: "fail",
			Message: fmt.Sprintf("%s — %v", policyPath, err),
		}}
	}

	results := []CheckResult{{
		Name: "policy_valid", Category: "policy", Status: "pass",
		Message: fmt.Sprintf("%s (%s)", policyPath, pol.VersionTag),
	}}

	if len(pol.RBAC.AdminRoles) == 0 {
		results = append(results, CheckResult{
			Name: "admin_roles_defined", Category: "policy", Status: "fail",
			Message: "No admin_roles defined — approval requests can never be decided",
			Fix:     "Add at least one role to rbac.admin_roles",
		})
	} else {
		results = append(results, CheckResult{
			Name: "admin_roles_defined", Category: "policy", Status: "pass",
			Message: fmt.Sprintf("%v", pol.RBAC.AdminRoles),
		})
	}

	if len(pol.Webhook.AllowlistHosts) == 0 {
		results = append(results, CheckResult{
			Name: "webhook_allowlist", Category: "policy", Status: "warn",
			Message: "Allowlist is empty — webhook_post rejects every host",
			Fix:     "Add destination hosts to webhook.allowlist_hosts if webhooks are needed",
		})
	} else {
		results = append(results, CheckResult{
			Name: "webhook_allowlist", Category: "policy", Status: "pass",
			Message: fmt.Sprintf("%d host(s)", len(pol.Webhook.AllowlistHosts)),
		})
	}
	return results
}

func checkDatabase(ctx context.Context, cfg *config.Config) []CheckResult {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return []CheckResult{{
			Name: "database", Category: "database", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}}
	}
	defer st.Close()

	results := []CheckResult{{
		Name: "database", Category: "database", Status: "pass",
		Message: cfg.DBPath(),
	}}

	n, err := st.CountUsers(ctx)
	switch {
	case err != nil:
		results = append(results, CheckResult{
			Name: "users_exist", Category: "database", Status: "fail",
			Message: fmt.Sprintf("counting users: %v", err),
		})
	case n == 0:
		results = append(results, CheckResult{
			Name: "users_exist", Category: "database", Status: "warn",
			Message: "No users — every API request will return 401",
			Fix:     "Run 'gatekeep user add' or set GATEKEEP_ADMIN_PASSWORD before serve",
		})
	default:
		results = append(results, CheckResult{
			Name: "users_exist", Category: "database", Status: "pass",
			Message: fmt.Sprintf("%d user(s)", n),
		})
	}

	results = append(results, checkAuditChain(ctx, st))
	return results
}

// checkAuditChain verifies the default project's ledger. Other projects are
// verified on demand via `gatekeep audit verify --project`.
func checkAuditChain(ctx context.Context, st *store.Store) CheckResult {
	lg, err := ledger.New(st.DB())
	if err != nil {
		return CheckResult{
			Name: "audit_chain", Category: "database", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	result, err := lg.Verify(ctx, 1)
	if err != nil {
		return CheckResult{
			Name: "audit_chain", Category: "database", Status: "fail",
			Message: fmt.Sprintf("verifying: %v", err),
		}
	}
	if !result.OK {
		return CheckResult{
			Name: "audit_chain", Category: "database", Status: "fail",
			Message: fmt.Sprintf("chain broken at event %d: %s", result.BrokenID, result.Reason),
			Fix:     "Investigate database tampering; the ledger is append-only",
		}
	}
	return CheckResult{
		Name: "audit_chain", Category: "database", Status: "pass",
		Message: fmt.Sprintf("%d event(s) verified (default project)", result.Checked),
	}
}

func checkPlanner(ctx context.Context, cfg *config.Config, opts Options) []CheckResult {
	if !cfg.PlannerConfigured() {
		return []CheckResult{{
			Name: "planner", Category: "planner", Status: "pass",
			Message: "Not configured — heuristic planning only",
		}}
	}

	results := []CheckResult{{
		Name: "planner", Category: "planner", Status: "pass",
		Message: fmt.Sprintf("%s (model %s)", cfg.PlannerBaseURL, cfg.PlannerModel),
	}}
	if opts.SkipUpstream {
		return results
	}
	return append(results, checkPlannerUpstream(ctx, cfg.PlannerBaseURL)...)
}

func checkPlannerUpstream(ctx context.Context, baseURL string) []CheckResult {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return []CheckResult{{
			Name: "planner_upstream", Category: "planner", Status: "fail",
			Message: fmt.Sprintf("Invalid URL: %v", err),
		}}
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)

	if err != nil {
		return []CheckResult{{
			Name: "planner_upstream", Category: "planner", Status: "fail",
			Message: fmt.Sprintf("Connection failed: %v", err),
			Fix:     "Check network connectivity and GATEKEEP_PLANNER_BASE_URL",
		}}
	}
	resp.Body.Close()

	results := []CheckResult{{
		Name: "planner_upstream", Category: "planner", Status: "pass",
		Message: fmt.Sprintf("%s — %dms", baseURL, latency.Milliseconds()),
	}}

	if latency > 2*time.Second {
		results = append(results, CheckResult{
			Name: "planner_upstream_latency", Category: "planner", Status: "fail",
			Message: fmt.Sprintf("%.1fs (> 2s threshold)", latency.Seconds()),
			Fix:     "Every degraded turn waits on this endpoint; pick a closer one",
		})
	} else if latency > time.Second {
		results = append(results, CheckResult{
			Name: "planner_upstream_latency", Category: "planner", Status: "warn",
			Message: fmt.Sprintf("%.1fs (> 1s threshold)", latency.Seconds()),
		})
	}
	return results
}
