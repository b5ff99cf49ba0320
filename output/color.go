package output

import (
	"github.com/fatih/color"
	"github.com/skylenet/aa-benchmark/benchmark"
)

// ColorHelper colors terminal output. Colors are enabled only when
// outputting to a terminal.
type ColorHelper struct {
	enabled bool
}

// NewColorHelper creates a new color helper
func NewColorHelper() *ColorHelper {
	return &ColorHelper{
		enabled: !color.NoColor,
	}
}

// Success returns green colored text
func (c *ColorHelper) Success(text string) string {
	if !c.enabled {
		return text
	}
	return color.GreenString(text)
}

// Failure returns red colored text
func (c *ColorHelper) Failure(text string) string {
	if !c.enabled {
		return text
	}
	return color.RedString(text)
}

// Warning returns yellow colored text
func (c *ColorHelper) Warning(text string) string {
	if !c.enabled {
		return text
	}
	return color.YellowString(text)
}

// Muted returns gray colored text
func (c *ColorHelper) Muted(text string) string {
	if !c.enabled {
		return text
	}
	return color.New(color.FgHiBlack).Sprint(text)
}

// Header returns bold cyan text for section headers
func (c *ColorHelper) Header(text string) string {
	if !c.enabled {
		return text
	}
	return color.New(color.FgCyan, color.Bold).Sprint(text)
}

// Badge returns bold magenta text for a winning metric.
func (c *ColorHelper) Badge(text string) string {
	if !c.enabled {
		return text
	}
	return color.New(color.FgMagenta, color.Bold).Sprint(text)
}

// FormatState returns appropriately colored result state text
func (c *ColorHelper) FormatState(state benchmark.State) string {
	switch state {
	case benchmark.StateSucceeded:
		return c.Success("✓ " + string(state))
	case benchmark.StateFailed:
		return c.Failure("✗ " + string(state))
	default:
		return c.Warning("… " + string(state))
	}
}
