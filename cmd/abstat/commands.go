// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/AleutianAI/abstat/cmd/abstat/config"
	"github.com/AleutianAI/abstat/pkg/logging"
	"github.com/AleutianAI/abstat/pkg/ux"
	"github.com/AleutianAI/abstat/services/experiment"
	"github.com/AleutianAI/abstat/services/experiment/presets"
	"github.com/spf13/cobra"
)

// cli holds global flag values and state shared by subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	// --- Global Flags ---
	jsonOutput bool
	configPath string
	logLevel   string

	cfg    config.AbstatConfig
	logger *logging.Logger
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{stdout: stdout, stderr: stderr}
}

// rootCmd builds the command tree writing to c.stdout and c.stderr.
func (c *cli) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "abstat",
		Short: "Plan and analyze two-arm conversion experiments",
		Long: `abstat sizes A/B experiments before they run, tests the outcome with a
pooled two-proportion z-test, and shows how repeated looks at the data
inflate false positives.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)

	rootCmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Write JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ~/.abstat/abstat.yaml)")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")

	rootCmd.AddCommand(
		c.validateCmd(),
		c.sizeCmd(),
		c.analyzeCmd(),
		c.simulateCmd(),
		c.presetsCmd(),
		c.serveCmd(),
	)
	return rootCmd
}

// setup loads config and builds the logger before any subcommand runs.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	var err error
	if c.configPath != "" {
		c.cfg, err = config.LoadFrom(c.configPath)
	} else {
		c.cfg, err = config.Load(c.stderr)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	levelName := c.cfg.Logging.Level
	if c.logLevel != "" {
		levelName = c.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  c.cfg.Logging.Dir,
		Service: "abstat",
		JSON:    c.cfg.Logging.JSON,
		Output:  c.stderr,
	})
	c.logger.Debug("Configuration loaded", "command", cmd.Name())
	return nil
}

// close releases the logger opened by setup. cobra skips post-run hooks
// when RunE fails, so this runs after Execute instead.
func (c *cli) close() error {
	if c.logger == nil {
		return nil
	}
	err := c.logger.Close()
	c.logger = nil
	return err
}

func (c *cli) printer() *ux.Printer {
	return ux.NewPrinter(c.stdout, c.jsonOutput)
}

// registry returns the built-in presets, replaced by presets_file when set.
func (c *cli) registry() (*presets.Registry, error) {
	registry := presets.NewRegistry()
	if c.cfg.PresetsFile == "" {
		return registry, nil
	}
	if err := registry.Load(c.cfg.PresetsFile); err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	return registry, nil
}

func (c *cli) service() (*experiment.Service, error) {
	registry, err := c.registry()
	if err != nil {
		return nil, err
	}
	return experiment.NewService(experiment.ServiceConfig{
		Presets: registry,
		Logger:  c.logger,
	})
}
