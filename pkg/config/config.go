package config

// Config is the umbrella configuration object produced by Initialize and
// threaded through the engine, scheduler, invoker, and merge queue.
type Config struct {
	configDir string

	ProjectName string `yaml:"project_name" validate:"required"`
	RepoRoot    string `yaml:"repo_root" validate:"required"`
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

	Concurrency *ConcurrencyConfig `yaml:"-"`
	AgentPool   *AgentPool         `yaml:"-"`
}

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	Agents         int
	BuildEcosystems int
	TestEcosystems  int
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Agents:          c.AgentPool.Len(),
		BuildEcosystems: len(c.BuildCmds),
		TestEcosystems:  len(c.TestCmds),
	}
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetAgent retrieves an agent pool entry by id. Convenience wrapper over
// AgentPool.Get.
func (c *Config) GetAgent(agentID string) (*AgentPoolEntry, error) {
	return c.AgentPool.Get(agentID)
}
