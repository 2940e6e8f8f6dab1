package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for the dashboard.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default dashboard theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// qualityColor maps a 0..1 quality score onto the theme.
func (t Theme) qualityColor(q float64) lipgloss.Color {
	switch {
	case q >= 0.7:
		return t.Success
	case q >= 0.4:
		return t.Warning
	default:
		return t.Error
	}
}
