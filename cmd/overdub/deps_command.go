package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"overdub/internal/deps"
	"overdub/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var asJSON, checkLLM bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries, directories, and host resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := preflight.Run(cmd.Context(), cfg, preflight.Options{CheckLLM: checkLLM})
			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderReport(report, isTerminal(cmd.OutOrStdout())))
			}
			if missing := deps.MissingRequired(report.Dependencies); len(missing) > 0 {
				names := make([]string, len(missing))
				for i, m := range missing {
					names[i] = m.Name
				}
				return fmt.Errorf("missing required dependencies: %s", strings.Join(names, ", "))
			}
			if !report.Ready() {
				return errors.New("one or more readiness checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&checkLLM, "llm", false, "Also verify the translation API key with a live request")
	return cmd
}

func renderReport(report preflight.Report, colorize bool) string {
	var b strings.Builder
	rows := make([][]string, 0, len(report.Dependencies))
	for _, dep := range report.Dependencies {
		status := "ok"
		switch {
		case !dep.Available && dep.Optional:
			status = "missing (optional)"
		case !dep.Available:
			status = "MISSING"
		}
		detail := dep.Version
		if detail == "" {
			detail = dep.Detail
		}
		rows = append(rows, []string{dep.Name, status, dep.Command, detail, dep.Description})
	}
	b.WriteString(renderSectionHeader("Dependencies", colorize))
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"Name", "Status", "Command", "Version", "Used for"}, rows, nil))
	b.WriteString("\n\n")

	b.WriteString(renderSectionHeader("Checks", colorize))
	b.WriteString("\n")
	for _, check := range report.Checks {
		kind := statusOK
		switch {
		case !check.Passed && check.Advisory:
			kind = statusWarn
		case !check.Passed:
			kind = statusError
		}
		b.WriteString(renderStatusLine(check.Name, kind, check.Detail, colorize))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("\nReady: %s\n", yesNo(report.Ready())))
	return b.String()
}
