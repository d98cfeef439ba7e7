// Package config holds operator-level configuration for a Gatekeep
// installation: data directory, listen address, policy file location, and
// the optional external planner endpoint.
//
// Set via env vars (GATEKEEP_*) or a gatekeep.config.yaml file. The
// governance policy itself (tool rules, RBAC, privacy and RAG defaults)
// lives in a separate policy document loaded by internal/policy — this
// package only says where to find it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the GATEKEEP_ prefix
// (e.g. "planner_base_url" → GATEKEEP_PLANNER_BASE_URL) and to a YAML
// field in gatekeep.config.yaml.
const (
	KeyDataDir        = "data_dir"
	KeyListenAddr     = "listen_addr"
	KeyPolicyFile     = "policy_file"
	KeyPlannerBaseURL = "planner_base_url"
	KeyPlannerAPIKey  = "planner_api_key"
	KeyPlannerModel   = "planner_model"
	KeyRetentionDays  = "audit_retention_days"
)

const (
	DefaultListenAddr    = ":8787"
	DefaultPolicyFile    = "gatekeep.policy.yaml"
	DefaultPlannerModel  = "gpt-4o-mini"
	DefaultRetentionDays = 90
)

// Config holds resolved operator-level configuration for a Gatekeep process.
type Config struct {
	DataDir        string // base directory for all state (~/.gatekeep)
	ListenAddr     string // HTTP API listen address
	PolicyFile     string // governance policy document path
	PlannerBaseURL string // OpenAI-compatible endpoint; empty → heuristic planning
	PlannerAPIKey  string
	PlannerModel   string
	RetentionDays  int // audit purge horizon for `gatekeep audit purge`
}

// PlannerConfigured reports whether an external planning endpoint is usable.
// Both the base URL and the API key must be present.
func (c *Config) PlannerConfigured() bool {
	return strings.TrimSpace(c.PlannerBaseURL) != "" && strings.TrimSpace(c.PlannerAPIKey) != ""
}

// DBPath returns the full path to the SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "gatekeep.db")
}

// PolicyPath resolves the policy file relative to the data directory unless
// it is already absolute or exists relative to the working directory.
func (c *Config) PolicyPath() string {
	if filepath.IsAbs(c.PolicyFile) {
		return c.PolicyFile
	}
	if _, err := os.Stat(c.PolicyFile); err == nil {
		return c.PolicyFile
	}
	return filepath.Join(c.DataDir, c.PolicyFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("GATEKEEP")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyPolicyFile, DefaultPolicyFile)
	viper.SetDefault(KeyPlannerModel, DefaultPlannerModel)
	viper.SetDefault(KeyRetentionDays, DefaultRetentionDays)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		ListenAddr:     viper.GetString(KeyListenAddr),
		PolicyFile:     viper.GetString(KeyPolicyFile),
		PlannerBaseURL: viper.GetString(KeyPlannerBaseURL),
		PlannerAPIKey:  viper.GetString(KeyPlannerAPIKey),
		PlannerModel:   viper.GetString(KeyPlannerModel),
		RetentionDays:  viper.GetInt(KeyRetentionDays),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gatekeep"
	}
	return filepath.Join(home, ".gatekeep")
}

func (c *Config) validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("audit_retention_days must be positive")
	}
	if c.PlannerBaseURL != "" && strings.TrimSpace(c.PlannerAPIKey) == "" {
		return fmt.Errorf("planner_base_url is set but planner_api_key is empty; set GATEKEEP_PLANNER_API_KEY")
	}
	return nil
}
