package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

// TableFormatter renders a styled table for terminal display. Low disks
// are marked and colored.
type TableFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TableFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.header(r))
	w.WriteString("\n")
	w.WriteString(f.table(r))
	w.WriteString(f.footer(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("! " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *TableFormatter) header(r *Result) string {
	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Site:"), ValueStyle.Render(orDash(r.Site))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Threshold:"), ValueStyle.Render(fmt.Sprintf("%dGB", r.ThresholdGB))),
	}
	if !r.GeneratedAt.IsZero() {
		parts = append(parts, fmt.Sprintf("%s %s",
			LabelStyle.Render("Measured:"),
			MutedStyle.Render(humanize.Time(r.GeneratedAt))))
	}
	return HeaderBox.Render(strings.Join(parts, "  "))
}

func (f *TableFormatter) table(r *Result) string {
	if len(r.Disks) == 0 {
		return MutedStyle.Render("No disks measured.") + "\n"
	}

	nameWidth := len("DISK")
	for _, d := range r.Disks {
		nameWidth = max(nameWidth, len(d.Path))
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%-*s %10s %10s %10s", nameWidth, "DISK", "TOTAL", "USED", "AVAIL")))
	b.WriteString("\n")

	for _, d := range r.Disks {
		avail := fmt.Sprintf("%10s", fmt.Sprintf("%dGB", d.AvailableGB))
		line := fmt.Sprintf("%-*s %10s %10s %s",
			nameWidth, d.Path,
			fmt.Sprintf("%dGB", d.TotalGB),
			fmt.Sprintf("%dGB", d.UsedGB),
			SizeStyle(d.AvailableGB, r.ThresholdGB).Render(avail))
		if d.IsLow(r.ThresholdGB) {
			line += " " + DangerStyle.Render("LOW")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (f *TableFormatter) footer(r *Result) string {
	total, used, available := r.Totals()
	low := len(r.Low())

	lowText := SuccessStyle.Render("0 low")
	if low > 0 {
		lowText = DangerStyle.Render(fmt.Sprintf("%d low", low))
	}

	summary := strings.Join([]string{
		LabelStyle.Render("Disks:") + " " + ValueStyle.Render(fmt.Sprintf("%d", len(r.Disks))),
		LabelStyle.Render("Capacity:") + " " + ValueStyle.Render(types.FormatGB(total)),
		LabelStyle.Render("Used:") + " " + ValueStyle.Render(types.FormatGB(used)),
		LabelStyle.Render("Free:") + " " + ValueStyle.Render(types.FormatGB(available)),
		lowText,
	}, "  ")

	return lipgloss.JoinVertical(lipgloss.Left, FooterBox.Render(summary)) + "\n"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	Register("table", func() Formatter {
		return &TableFormatter{}
	})
}

var _ Formatter = (*TableFormatter)(nil)
