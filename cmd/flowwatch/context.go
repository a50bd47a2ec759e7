package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/flowwatch/flowwatch/config"
)

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) configPath() string {
	return strings.TrimSpace(c.flags.config)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(c.configPath(), c.overrides())
	})
	return c.config, c.configErr
}

// overrides maps the persistent flags onto config keys. Flags win over
// files and environment.
func (c *commandContext) overrides() map[string]any {
	out := make(map[string]any)
	if lvl := strings.TrimSpace(c.flags.logLevel); lvl != "" {
		out["log.level"] = lvl
	}
	if c.flags.port != 0 {
		out["server.port"] = c.flags.port
	}
	if c.flags.debug {
		out["app.debug"] = true
		out["log.level"] = "debug"
	}
	return out
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
