package monitor

import "github.com/charmbracelet/lipgloss"

// Color palette shared with the other terminal views
var (
	ColorPrimary   = lipgloss.Color("#8B5CF6") // Violet
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Emerald
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorDimmed    = lipgloss.Color("#374151") // Dark Gray
	ColorBgPanel   = lipgloss.Color("#1E293B") // Slate 800
	ColorText      = lipgloss.Color("#F8FAFC") // Slate 50
	ColorTextMuted = lipgloss.Color("#94A3B8") // Slate 400
	ColorTextDim   = lipgloss.Color("#64748B") // Slate 500
)

var (
	LogoStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	TitlePanelStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 2).
			MarginBottom(1)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDimmed).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Background(ColorBgPanel).
			Foreground(ColorText).
			Padding(0, 1)

	TimestampStyle = lipgloss.NewStyle().Foreground(ColorTextDim)

	ActiveStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	InactiveStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Bold(true)

	HeardStyle     = lipgloss.NewStyle().Foreground(ColorTextMuted)
	ForwardedStyle = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	WakeStyle      = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	ErrorStyle     = lipgloss.NewStyle().Foreground(ColorError).Bold(true)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)
)

// Logo
const Logo = "Wake Monitor"

// RenderKeyHint renders a keyboard shortcut hint
func RenderKeyHint(key, description string) string {
	return HelpKeyStyle.Render(key) + " " + HelpDescStyle.Render(description)
}
