// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output as styled terminal tables or as JSON.
//
// A Printer picks its mode once: styled when writing to a terminal, JSON
// when writing to a pipe or file or when JSON is forced. Commands hand the
// Printer both a value for JSON mode and the rows for styled mode, so piped
// output is always machine-readable.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Palette - deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Border  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Border:  lipgloss.NewStyle().Foreground(ColorTealDeep),
}

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeStyled renders lipgloss tables for a terminal.
	ModeStyled Mode = iota

	// ModeJSON writes indented JSON.
	ModeJSON
)

// Printer writes command results.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	out  io.Writer
	mode Mode
}

// NewPrinter returns a Printer for out. JSON mode is used when forceJSON is
// set or out is not a terminal.
func NewPrinter(out io.Writer, forceJSON bool) *Printer {
	mode := ModeStyled
	if forceJSON || !IsTerminal(out) {
		mode = ModeJSON
	}
	return &Printer{out: out, mode: mode}
}

// NewPrinterMode returns a Printer with an explicit mode.
func NewPrinterMode(out io.Writer, mode Mode) *Printer {
	return &Printer{out: out, mode: mode}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// JSON writes v as indented JSON regardless of mode.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Section is one titled table in styled output.
type Section struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// KeyValues builds a two-column section from alternating key, value pairs.
func KeyValues(title string, pairs ...string) Section {
	s := Section{Title: title, Headers: []string{"Field", "Value"}}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Rows = append(s.Rows, []string{pairs[i], pairs[i+1]})
	}
	return s
}

// Print writes v as JSON in JSON mode, otherwise renders sections.
func (p *Printer) Print(v any, sections ...Section) error {
	if p.mode == ModeJSON {
		return p.JSON(v)
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(p.out)
		}
		if s.Title != "" {
			fmt.Fprintln(p.out, Styles.Title.Render(s.Title))
		}
		fmt.Fprintln(p.out, RenderTable(s.Headers, s.Rows))
	}
	return nil
}

// Status prints a one-line verdict in styled mode. It writes nothing in JSON
// mode, where the verdict is part of the printed value.
func (p *Printer) Status(ok bool, text string) {
	if p.mode == ModeJSON {
		return
	}
	if ok {
		fmt.Fprintln(p.out, Styles.Success.Render("✓ "+text))
		return
	}
	fmt.Fprintln(p.out, Styles.Warning.Render("⚠ "+text))
}

// RenderTable renders a bordered table.
func RenderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			return Styles.Cell
		})
	return t.Render()
}
