package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// workflowYAMLConfig mirrors the on-disk super-ralph.yaml shape.
type workflowYAMLConfig struct {
	ProjectName string `yaml:"project_name"`
	RepoRoot    string `yaml:"repo_root"`
	SpecsPath   string `yaml:"specs_path"`

	ReferenceFiles []string `yaml:"reference_files"`

	BuildCmds map[string]string `yaml:"build_cmds"`
	TestCmds  map[string]string `yaml:"test_cmds"`

	PreLandChecks  []string `yaml:"pre_land_checks"`
	PostLandChecks []string `yaml:"post_land_checks"`

	CodeStyle       string   `yaml:"code_style"`
	ReviewChecklist []string `yaml:"review_checklist"`

	MainBranch       string           `yaml:"main_branch"`
	OrderingStrategy OrderingStrategy `yaml:"ordering_strategy"`

	Concurrency *ConcurrencyConfig        `yaml:"concurrency"`
	AgentPool   map[string]AgentPoolEntry `yaml:"agent_pool"`
}

const defaultConfigFile = "super-ralph.yaml"

// EnvMaxConcurrency is the environment variable that overrides
// concurrency.max_concurrency at load time.
const EnvMaxConcurrency = "WORKFLOW_MAX_CONCURRENCY"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load super-ralph.yaml from configDir.
//  2. Expand environment variable references.
//  3. Parse YAML into structs.
//  4. Apply built-in defaults for unset values.
//  5. Apply the WORKFLOW_MAX_CONCURRENCY environment override.
//  6. Build the in-memory agent pool registry.
//  7. Validate everything.
//  8. Return Config ready for use.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"agents", stats.Agents,
		"build_ecosystems", stats.BuildEcosystems,
		"test_ecosystems", stats.TestEcosystems)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadWorkflowYAML()
	if err != nil {
		return nil, NewLoadError(defaultConfigFile, err)
	}

	concurrency := DefaultConcurrencyConfig()
	if yamlCfg.Concurrency != nil {
		applyConcurrencyOverrides(concurrency, yamlCfg.Concurrency)
	}
	applyEnvConcurrencyOverride(concurrency)

	mainBranch := yamlCfg.MainBranch
	if mainBranch == "" {
		mainBranch = "main"
	}

	ordering := yamlCfg.OrderingStrategy
	if ordering == "" {
		ordering = OrderingPriority
	}

	return &Config{
		configDir:        configDir,
		ProjectName:      yamlCfg.ProjectName,
		RepoRoot:         yamlCfg.RepoRoot,
		SpecsPath:        yamlCfg.SpecsPath,
		ReferenceFiles:   yamlCfg.ReferenceFiles,
		BuildCmds:        yamlCfg.BuildCmds,
		TestCmds:         yamlCfg.TestCmds,
		PreLandChecks:    yamlCfg.PreLandChecks,
		PostLandChecks:   yamlCfg.PostLandChecks,
		CodeStyle:        yamlCfg.CodeStyle,
		ReviewChecklist:  yamlCfg.ReviewChecklist,
		MainBranch:       mainBranch,
		OrderingStrategy: ordering,
		Concurrency:      concurrency,
		AgentPool:        NewAgentPool(yamlCfg.AgentPool),
	}, nil
}

func applyConcurrencyOverrides(base, override *ConcurrencyConfig) {
	if override.MaxConcurrency != 0 {
		base.MaxConcurrency = override.MaxConcurrency
	}
	if override.MaxSpeculativeDepth != 0 {
		base.MaxSpeculativeDepth = override.MaxSpeculativeDepth
	}
	if override.AgentTimeout != 0 {
		base.AgentTimeout = override.AgentTimeout
	}
	if override.CancellationGrace != 0 {
		base.CancellationGrace = override.CancellationGrace
	}
	if override.StaleAttemptThreshold != 0 {
		base.StaleAttemptThreshold = override.StaleAttemptThreshold
	}
	if override.MaxStdoutBytes != 0 {
		base.MaxStdoutBytes = override.MaxStdoutBytes
	}
}

func applyEnvConcurrencyOverride(cfg *ConcurrencyConfig) {
	raw := os.Getenv(EnvMaxConcurrency)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid WORKFLOW_MAX_CONCURRENCY", "value", raw, "error", err)
		return
	}
	cfg.MaxConcurrency = n
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadWorkflowYAML() (*workflowYAMLConfig, error) {
	path := filepath.Join(l.configDir, defaultConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand ${VAR} / $VAR references before parsing; missing variables
	// expand to empty string, left for validation to catch.
	data = ExpandEnv(data)

	var cfg workflowYAMLConfig
	cfg.BuildCmds = make(map[string]string)
	cfg.TestCmds = make(map[string]string)
	cfg.AgentPool = make(map[string]AgentPoolEntry)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}
