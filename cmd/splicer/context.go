package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/maauso/audiosplicer/internal/bootstrap"
	"github.com/maauso/audiosplicer/internal/config"
)

type globalFlags struct {
	cachePath string
	outputDir string
	logLevel  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error

	depsOnce sync.Once
	deps     *bootstrap.Dependencies
	depsErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads the environment configuration once and applies the
// global flag overrides.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		if v := strings.TrimSpace(c.flags.cachePath); v != "" {
			cfg.DurationCachePath = v
		}
		if v := strings.TrimSpace(c.flags.outputDir); v != "" {
			cfg.OutputDir = v
		}
		if v := strings.TrimSpace(c.flags.logLevel); v != "" {
			cfg.LogLevel = v
		}
		c.config = cfg
		c.logger = cfg.NewLoggerTo(os.Stderr)
	})
	return c.config, c.configErr
}

func (c *commandContext) dependencies(ctx context.Context) (*bootstrap.Dependencies, error) {
	c.depsOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.depsErr = err
			return
		}
		c.deps, c.depsErr = bootstrap.NewDependencies(ctx, cfg, c.logger)
	})
	return c.deps, c.depsErr
}
