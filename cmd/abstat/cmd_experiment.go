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
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/abstat/services/experiment"
	"github.com/AleutianAI/abstat/services/experiment/ab"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// parameterFlags are the experiment design flags shared by validate, size
// and simulate.
type parameterFlags struct {
	preset     string
	baseline   float64
	mde        float64
	confidence float64
	power      float64
}

func (f *parameterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preset, "preset", "", "Start from a named preset")
	cmd.Flags().Float64Var(&f.baseline, "baseline", 0, "Baseline conversion rate, in (0, 1)")
	cmd.Flags().Float64Var(&f.mde, "mde", 0, "Minimum detectable effect, relative lift in (0, 1)")
	cmd.Flags().Float64Var(&f.confidence, "confidence", 0, "Confidence level in [0.8, 1) (default from config)")
	cmd.Flags().Float64Var(&f.power, "power", 0, "Statistical power in [0.8, 1) (default from config)")
}

// resolve builds parameters from the preset, or the config defaults when no
// preset is named, then applies every flag the user set.
func (f *parameterFlags) resolve(cmd *cobra.Command, c *cli, svc *experiment.Service) (ab.Parameters, error) {
	p := ab.Parameters{
		ConfidenceLevel:  c.cfg.Defaults.Confidence,
		StatisticalPower: c.cfg.Defaults.Power,
	}
	if f.preset != "" {
		var err error
		if p, err = svc.ResolveParameters(f.preset, p); err != nil {
			return ab.Parameters{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("baseline") {
		p.BaselineRate = f.baseline
	}
	if flags.Changed("mde") {
		p.MinimumDetectableEffect = f.mde
	}
	if flags.Changed("confidence") {
		p.ConfidenceLevel = f.confidence
	}
	if flags.Changed("power") {
		p.StatisticalPower = f.power
	}
	return p, nil
}

func (c *cli) validateCmd() *cobra.Command {
	var params parameterFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check experiment parameters (exit 1 if they fail)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			p, err := params.resolve(cmd, c, svc)
			if err != nil {
				return err
			}

			validationErr := svc.Validate(cmd.Context(), p)
			resp := experiment.ValidateResponse{Valid: validationErr == nil}
			if validationErr != nil {
				resp.Reason = validationErr.Error()
				var perr *ab.ParameterError
				if errors.As(validationErr, &perr) {
					resp.Reason = perr.Reason
					resp.Field = perr.Field
				}
			}

			printer := c.printer()
			if err := printer.Print(resp, parameterSection(p)); err != nil {
				return err
			}
			if validationErr != nil {
				printer.Status(false, "Invalid: "+resp.Reason)
				return &CommandError{Command: "validate", ExitCode: exitFinding, Wrapped: validationErr}
			}
			printer.Status(true, "Parameters are valid")
			return nil
		},
	}
	params.register(cmd)
	return cmd
}

func (c *cli) sizeCmd() *cobra.Command {
	var params parameterFlags
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Compute the per-arm sample size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			p, err := params.resolve(cmd, c, svc)
			if err != nil {
				return err
			}
			plan, err := svc.SampleSize(cmd.Context(), p)
			if err != nil {
				return err
			}
			return c.printer().Print(plan, planSection(plan))
		},
	}
	params.register(cmd)
	return cmd
}

// observationFile is the YAML or JSON layout read by analyze.
type observationFile struct {
	Control []int `yaml:"control"`
	Variant []int `yaml:"variant"`
}

// readObservations loads both arms from path. JSON input is accepted since
// it parses as YAML.
func readObservations(path string) (control, variant ab.Observations, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read observations: %w", err)
	}
	var file observationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse observations %s: %w", path, err)
	}
	if control, err = ab.ObservationsFromInts(file.Control); err != nil {
		return nil, nil, fmt.Errorf("control: %w", err)
	}
	if variant, err = ab.ObservationsFromInts(file.Variant); err != nil {
		return nil, nil, fmt.Errorf("variant: %w", err)
	}
	return control, variant, nil
}

// analyzeResult is the analyze command's JSON output.
type analyzeResult struct {
	Outcome    *ab.OutcomeRecord              `json:"outcome"`
	Sequential *experiment.SequentialResponse `json:"sequential,omitempty"`
}

func (c *cli) analyzeCmd() *cobra.Command {
	var (
		file           string
		confidence     float64
		checkpointSize int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Test observed outcomes with a two-proportion z-test",
		Long: `Reads {control: [...], variant: [...]} of 0/1 outcomes from a YAML or JSON
file and reports rates, lift, z-score, p-value and Wald intervals. With
--checkpoint, also reports the test at every checkpoint-sized prefix.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("confidence") {
				confidence = c.cfg.Defaults.Confidence
			}
			if !cmd.Flags().Changed("checkpoint") {
				checkpointSize = c.cfg.Defaults.CheckpointSize
			}

			control, variant, err := readObservations(file)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}

			record, err := svc.Analyze(cmd.Context(), control, variant, confidence)
			if err != nil {
				return err
			}
			result := analyzeResult{Outcome: record}
			sections := outcomeSections(record)

			if checkpointSize > 0 {
				checkpoints, err := svc.Sequential(cmd.Context(), control, variant, checkpointSize, confidence)
				if err != nil {
					return err
				}
				result.Sequential = &experiment.SequentialResponse{
					CheckpointSize: checkpointSize,
					Checkpoints:    checkpoints,
				}
				if first, ok := ab.FirstSignificant(checkpoints); ok {
					result.Sequential.FirstSignificant = &first
				}
				sections = append(sections, checkpointSection(checkpoints))
			}

			printer := c.printer()
			if err := printer.Print(result, sections...); err != nil {
				return err
			}
			printer.Status(record.Significant, verdictText(record))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Observations file (YAML or JSON)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence level in (0, 1) (default from config)")
	cmd.Flags().IntVar(&checkpointSize, "checkpoint", 0, "Also test every N-observation prefix (default from config, 0 skips)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) simulateCmd() *cobra.Command {
	var (
		params         parameterFlags
		seed           uint64
		checkpointSize int
		lift           float64
		replicates     int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a seeded synthetic experiment",
		Long: `Plans the sample size, draws both arms from a seeded generator and analyzes
them at the end and at every checkpoint. The variant's true lift defaults to
the minimum detectable effect. With --replicates, repeats the trial and
reports how often it is significant at the final look versus at any look.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("seed") {
				seed = c.cfg.Defaults.Seed
			}
			if !flags.Changed("checkpoint") {
				checkpointSize = c.cfg.Defaults.CheckpointSize
			}

			svc, err := c.service()
			if err != nil {
				return err
			}
			p, err := params.resolve(cmd, c, svc)
			if err != nil {
				return err
			}

			in := experiment.SimulateInput{
				Parameters:     p,
				Seed:           seed,
				CheckpointSize: checkpointSize,
				Replicates:     replicates,
			}
			if flags.Changed("lift") {
				in.TrueLift = &lift
			}

			resp, err := svc.Simulate(cmd.Context(), in)
			if err != nil {
				return err
			}

			printer := c.printer()
			if err := printer.Print(resp, simulationSections(resp)...); err != nil {
				return err
			}
			printer.Status(resp.Experiment.Outcome.Significant, verdictText(resp.Experiment.Outcome))
			return nil
		},
	}
	params.register(cmd)
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Generator seed (default from config)")
	cmd.Flags().IntVar(&checkpointSize, "checkpoint", 0, "Observations per checkpoint (default from config, 0 picks N/20)")
	cmd.Flags().Float64Var(&lift, "lift", 0, "True relative lift of the variant (default: the mde)")
	cmd.Flags().IntVar(&replicates, "replicates", 0, "Independent replicates to run")
	return cmd
}

func (c *cli) presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the illustrative experiment presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.registry()
			if err != nil {
				return err
			}
			resp := experiment.PresetsResponse{
				Source:  registry.Source(),
				Presets: registry.List(),
			}
			return c.printer().Print(resp, presetSection(resp))
		},
	}
}
