package cli

import (
	"fmt"
	"io"
	"strings"

	"package-mirror/internal/types"
)

// itemFailuresError marks a run that finished but left failed items behind.
type itemFailuresError struct {
	count int
}

func (e *itemFailuresError) Error() string {
	if e.count == 1 {
		return "1 item failed"
	}
	return fmt.Sprintf("%d items failed", e.count)
}

func printReport(w io.Writer, report types.RunReport) {
	for _, item := range report.Items {
		if item.Phase == types.PhaseList {
			continue
		}
		line := fmt.Sprintf("%-7s %-9s %s", item.Phase, item.Status, item.Identity)
		if strings.TrimSpace(item.Message) != "" {
			line += ": " + item.Message
		}
		fmt.Fprintln(w, line)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", warning.Identity, warning.Message)
	}
	if report.ExportPath != "" {
		fmt.Fprintf(w, "exported: %s\n", report.ExportPath)
	}
	fmt.Fprintf(w, "downloaded: %d failed: %d\n", report.Downloads(), len(report.Failures()))
}

// printInventory writes one line per listed package version followed by a
// summary of distinct ids.
func printInventory(w io.Writer, report types.RunReport) {
	ids := map[string]struct{}{}
	listed := report.ByPhase(types.PhaseList)
	for _, item := range listed {
		fmt.Fprintln(w, item.Identity.String())
		ids[strings.ToLower(item.Identity.ID)] = struct{}{}
	}
	fmt.Fprintf(w, "packages: %d versions: %d\n", len(ids), len(listed))
}

func finishRun(w io.Writer, report types.RunReport) error {
	if len(report.ByPhase(types.PhaseList)) > 0 {
		printInventory(w, report)
	}
	printReport(w, report)
	if failures := report.Failures(); len(failures) > 0 {
		return &itemFailuresError{count: len(failures)}
	}
	return nil
}
