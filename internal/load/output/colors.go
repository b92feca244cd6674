package output

import (
	"github.com/fatih/color"
)

// Palette holds the colors used by the console output.
type Palette struct {
	Title     *color.Color
	Rule      *color.Color
	Value     *color.Color
	Dim       *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Latency   *color.Color
	Highlight *color.Color
}

// NewPalette returns the default palette. Colors are forced on or off
// regardless of what fatih/color detected for stdout.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Latency:   color.New(color.FgBlue),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}

	for _, c := range p.all() {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Title, p.Rule, p.Value, p.Dim, p.Success, p.Warn, p.Error, p.Latency, p.Highlight}
}

// Icon returns a check mark or a cross.
func (p *Palette) Icon(passed bool) string {
	if passed {
		return p.Success.Sprint("✓")
	}
	return p.Error.Sprint("✗")
}

// rate picks green, yellow or red for a success ratio.
func (p *Palette) rate(successRate float64) *color.Color {
	switch {
	case successRate < 0.95:
		return p.Error
	case successRate < 0.99:
		return p.Warn
	default:
		return p.Success
	}
}
