package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mergeboard/internal/hosting"
	"mergeboard/internal/merge"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	manualStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// statusStyle colors a pipeline or stage status.
func statusStyle(status hosting.Status) lipgloss.Style {
	switch status {
	case hosting.StatusSuccess:
		return okStyle
	case hosting.StatusFailed:
		return errorStyle
	case hosting.StatusRunning, hosting.StatusPending, hosting.StatusPreparing,
		hosting.StatusCreated, hosting.StatusWaitingForResource:
		return warnStyle
	case hosting.StatusManual, hosting.StatusScheduled:
		return manualStyle
	default:
		return dimStyle
	}
}

// renderPipeline formats a pipeline and its stages, one stage per line.
func renderPipeline(p *hosting.PipelineStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s #%d on %s  %s\n",
		boldStyle.Render("Pipeline"), p.ID, p.Ref, statusStyle(p.Status).Render(string(p.Status)))
	if p.SHA != "" {
		sha := p.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(&b, "  commit  %s\n", sha)
	}
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "  updated %s\n", p.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if p.WebURL != "" {
		fmt.Fprintf(&b, "  %s\n", dimStyle.Render(p.WebURL))
	}

	if len(p.Stages) > 0 {
		b.WriteString("\n")
	}
	for _, stage := range p.Stages {
		name := stage.Name
		if stage.Manual {
			name += " (manual)"
		}
		fmt.Fprintf(&b, "  %-28s %s\n", name, statusStyle(stage.Status).Render(string(stage.Status)))
	}
	return b.String()
}

// renderMergeResult formats one line per outcome and a summary.
func renderMergeResult(r merge.Result) string {
	var b strings.Builder

	for _, o := range r.Outcomes {
		var marker string
		switch {
		case o.AlreadyMerged:
			marker = warnStyle.Render("[MERGED]")
		case o.Succeeded:
			marker = okStyle.Render("[OK]")
		default:
			marker = errorStyle.Render("[FAIL]")
		}

		fmt.Fprintf(&b, "%-8s !%d %s\n", marker, o.IID, o.Title)
		if o.Error != "" {
			fmt.Fprintf(&b, "         %s\n", dimStyle.Render(o.Error))
		}
	}

	if len(r.Outcomes) == 0 {
		b.WriteString(warnStyle.Render("No selected change request is open with the given labels") + "\n")
	}
	fmt.Fprintf(&b, "\nMerged %d, failed %d %s\n", r.SuccessCount, r.FailureCount, dimStyle.Render("(batch "+r.BatchID+")"))
	return b.String()
}

// renderTriggerResult formats an accepted stage trigger.
func renderTriggerResult(r *hosting.TriggerResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s stage %q on %s via %s\n", okStyle.Render("[OK]"), r.Stage, r.Ref, r.Mode)
	if r.PipelineID != 0 {
		fmt.Fprintf(&b, "  pipeline #%d\n", r.PipelineID)
	}
	for _, job := range r.Jobs {
		fmt.Fprintf(&b, "  job %-24s %s\n", job.Name, statusStyle(job.Status).Render(string(job.Status)))
	}
	return b.String()
}

// printStep prints a progress line with a status marker
func printStep(msg string, ok bool) {
	marker := okStyle.Render("[OK]")
	if !ok {
		marker = warnStyle.Render("[SKIP]")
	}
	fmt.Printf("%-70s%s\n", msg, marker)
}
