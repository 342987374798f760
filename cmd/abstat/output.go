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
	"strconv"

	"github.com/AleutianAI/abstat/pkg/ux"
	"github.com/AleutianAI/abstat/services/experiment"
	"github.com/AleutianAI/abstat/services/experiment/ab"
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func parameterSection(p ab.Parameters) ux.Section {
	return ux.KeyValues("Parameters",
		"Baseline rate", num(p.BaselineRate),
		"Minimum detectable effect", pct(p.MinimumDetectableEffect),
		"Confidence", num(p.ConfidenceLevel),
		"Power", num(p.StatisticalPower),
	)
}

func planSection(plan *ab.SampleSizePlan) ux.Section {
	return ux.KeyValues("Sample size",
		"Per arm", strconv.Itoa(plan.PerArm),
		"Total", strconv.Itoa(plan.Total),
		"Baseline rate", num(plan.BaselineRate),
		"Target rate", num(plan.TargetRate),
		"Pooled rate", num(plan.PooledRate),
		"z (alpha/2)", num(plan.ZAlpha),
		"z (beta)", num(plan.ZBeta),
	)
}

func outcomeSections(r *ab.OutcomeRecord) []ux.Section {
	outcome := ux.KeyValues("Outcome",
		"Control rate", fmt.Sprintf("%s (n=%d)", num(r.ControlRate), r.ControlSize),
		"Variant rate", fmt.Sprintf("%s (n=%d)", num(r.VariantRate), r.VariantSize),
		"Relative improvement", pct(r.RelativeImprovement),
		"z-score", num(r.ZScore),
		"p-value", num(r.PValue),
		"Significant", strconv.FormatBool(r.Significant),
		"Conclusion", string(r.Conclusion),
	)
	if r.Degenerate != 0 {
		outcome.Rows = append(outcome.Rows, []string{"Degenerate", r.Degenerate.String()})
	}

	intervals := ux.Section{
		Title:   fmt.Sprintf("%s%% confidence intervals", num(r.Confidence*100)),
		Headers: []string{"Arm", "Low", "High"},
		Rows: [][]string{
			{"Control", num(r.ConfidenceIntervals.Control.Low), num(r.ConfidenceIntervals.Control.High)},
			{"Variant", num(r.ConfidenceIntervals.Variant.Low), num(r.ConfidenceIntervals.Variant.High)},
		},
	}
	return []ux.Section{outcome, intervals}
}

func checkpointSection(checkpoints []ab.Checkpoint) ux.Section {
	s := ux.Section{
		Title:   "Checkpoints (uncorrected, peeking inflates false positives)",
		Headers: []string{"n", "p-value", "Lift", "Significant"},
	}
	for _, cp := range checkpoints {
		s.Rows = append(s.Rows, []string{
			strconv.Itoa(cp.SampleSize),
			num(cp.PValue),
			pct(cp.RelativeImprovement),
			strconv.FormatBool(cp.Significant),
		})
	}
	return s
}

func simulationSections(resp *experiment.SimulateResponse) []ux.Section {
	report := resp.Experiment
	trial := ux.KeyValues("Simulated trial",
		"Seed", strconv.FormatUint(resp.Seed, 10),
		"Baseline rate", num(report.Trial.BaselineRate),
		"True lift", pct(report.Trial.TrueLift),
		"Per arm", strconv.Itoa(report.Trial.SampleSize),
		"Checkpoint size", strconv.Itoa(report.CheckpointSize),
	)

	sections := []ux.Section{planSection(report.Plan), trial}
	sections = append(sections, outcomeSections(report.Outcome)...)
	sections = append(sections, checkpointSection(report.Checkpoints))

	if r := resp.Replicates; r != nil {
		sections = append(sections, ux.KeyValues("Replicates",
			"Replicates", strconv.Itoa(r.Replicates),
			"Significant at final look", fmt.Sprintf("%d (%s)", r.FinalSignificant, pct(r.FinalSignificantRate)),
			"Significant at any look", fmt.Sprintf("%d (%s)", r.PeekingSignificant, pct(r.PeekingSignificantRate)),
			"Mean stopping size", num(r.MeanStoppingSize),
		))
	}
	return sections
}

func presetSection(resp experiment.PresetsResponse) ux.Section {
	s := ux.Section{
		Title:   "Presets (" + resp.Source + ")",
		Headers: []string{"Name", "Baseline", "MDE", "Confidence", "Power", "Description"},
	}
	for _, p := range resp.Presets {
		s.Rows = append(s.Rows, []string{
			p.Name,
			num(p.BaselineRate),
			pct(p.MinimumDetectableEffect),
			num(p.ConfidenceLevel),
			num(p.StatisticalPower),
			p.Description,
		})
	}
	return s
}

func verdictText(r *ab.OutcomeRecord) string {
	switch r.Conclusion {
	case ab.ConclusionVariantWins:
		return fmt.Sprintf("Variant outperformed control (p=%s)", num(r.PValue))
	case ab.ConclusionControlWins:
		return fmt.Sprintf("Control outperformed variant (p=%s)", num(r.PValue))
	default:
		return fmt.Sprintf("Inconclusive at %s confidence (p=%s)", num(r.Confidence), num(r.PValue))
	}
}
