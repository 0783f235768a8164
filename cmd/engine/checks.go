package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/enitrat/super-ralph/pkg/mergequeue"
)

// buildChecks turns a list of shell command strings (cfg.PreLandChecks,
// cfg.PostLandChecks) into mergequeue.Check callbacks. Each command runs
// via /bin/sh -c against the window entry's workspace directory, matching
// the invoker's own "run an external command and surface its stderr"
// pattern rather than trying to parse and exec argv directly.
func buildChecks(commands []string) []mergequeue.Check {
	checks := make([]mergequeue.Check, 0, len(commands))
	for _, c := range commands {
		c := c
		checks = append(checks, func(ctx context.Context, workDir string) error {
			cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c)
			cmd.Dir = workDir
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("check %q: %w: %s", c, err, strings.TrimSpace(stderr.String()))
			}
			return nil
		})
	}
	return checks
}
