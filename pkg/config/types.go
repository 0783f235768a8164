package config

// Shared leaf types for configuration.

// CommandSpec pairs an ecosystem label (e.g. "go", "node") with the shell
// command that runs it. Config's buildCmds / testCmds are plain
// ecosystem-to-command maps and the pre/post-land check lists are plain
// command strings; none of them is built from CommandSpec.
type CommandSpec struct {
	Ecosystem string `yaml:"ecosystem" validate:"required"`
	Command   string `yaml:"command" validate:"required"`
}
