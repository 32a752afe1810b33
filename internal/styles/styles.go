// Package styles provides shared lipgloss styles for CLI output.
package styles

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night color palette.
var (
	ColorGreen  = lipgloss.Color("#9ece6a")
	ColorYellow = lipgloss.Color("#e0af68")
	ColorBlue   = lipgloss.Color("#7aa2f7")
	ColorGray   = lipgloss.Color("#565f89")
	ColorWhite  = lipgloss.Color("#c0caf5")
)

// Banner ASCII art printed when the server starts.
const Banner = `
 ╔═╗╔╗╔╔═╗╔═╗  ╔╦╗╦  ╔═╗
 ╚═╗║║║╠═╣╠═╝   ║║║  ╚═╗
 ╚═╝╝╚╝╩ ╩╩    ═╩╝╩═╝╚═╝`

// BannerStyle styles the ASCII art banner.
var BannerStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// LabelStyle styles key names in startup and status output.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// ValueStyle styles values next to a label.
var ValueStyle = lipgloss.NewStyle().
	Foreground(ColorWhite)

// StateStyle colors a session state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "interacting":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "image_loaded":
		return lipgloss.NewStyle().Foreground(ColorBlue)
	case "uninitialized":
		return lipgloss.NewStyle().Foreground(ColorYellow)
	default:
		return lipgloss.NewStyle().Foreground(ColorGray)
	}
}

// FormTheme is the huh theme used by interactive prompts.
func FormTheme() *huh.Theme {
	t := huh.ThemeBase()
	t.Focused.Title = t.Focused.Title.Foreground(ColorBlue).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorGray)
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(ColorGreen)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(ColorBlue)
	return t
}
