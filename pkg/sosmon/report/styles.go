package report

import "github.com/charmbracelet/lipgloss"

// Color constants using the ANSI 256-color palette.
const (
	ColorPrimary = lipgloss.Color("39")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
	ColorDanger  = lipgloss.Color("196")
	ColorMuted   = lipgloss.Color("245")
)

var (
	// HeaderBox frames the site and threshold line.
	HeaderBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1).
			MarginBottom(1)

	// FooterBox frames the totals.
	FooterBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1).
			MarginTop(1)
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	LabelStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	DangerStyle  = lipgloss.NewStyle().Foreground(ColorDanger).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// SizeStyle picks the color for an available-space figure: red when the
// disk is low, orange within twice the threshold, green otherwise.
func SizeStyle(availableGB, thresholdGB int64) lipgloss.Style {
	switch {
	case availableGB <= thresholdGB:
		return DangerStyle
	case availableGB <= 2*thresholdGB:
		return WarningStyle
	default:
		return SuccessStyle
	}
}
