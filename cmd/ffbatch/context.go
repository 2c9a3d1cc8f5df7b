package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ffbatch/internal/config"
	"ffbatch/internal/workspace"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = withExitCode(exitFatalStartup, err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = withExitCode(exitFatalStartup, err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// resolveRoots expands dirs (default ".") and rejects anything that is not
// an existing directory.
func resolveRoots(dirs []string) ([]string, error) {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		expanded, err := config.ExpandPath(dir)
		if err != nil {
			return nil, withExitCode(exitNotDir, err)
		}
		info, err := os.Stat(expanded)
		if err != nil {
			return nil, withExitCode(exitNotDir, fmt.Errorf("%s: %w", dir, err))
		}
		if !info.IsDir() {
			return nil, withExitCode(exitNotDir, fmt.Errorf("%s is not a directory", dir))
		}
		roots = append(roots, expanded)
	}
	return roots, nil
}

// workspaceFor resolves the workspace for dirs without locking it.
func (c *commandContext) workspaceFor(dirs []string) (*workspace.Workspace, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	roots, err := resolveRoots(dirs)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Resolve(cfg.Paths.StateDir, roots)
	if err != nil {
		return nil, withExitCode(exitFatalStartup, err)
	}
	return ws, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
