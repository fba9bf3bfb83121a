// Package color renders plan output with optional terminal colors.
package color

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Color represents a colorizer that can be enabled or disabled
type Color struct {
	add     *color.Color
	change  *color.Color
	destroy *color.Color
	bold    *color.Color
}

// New creates a new Color instance. Colors are only used when enabled is set and
// the environment allows them.
func New(enabled bool) *Color {
	enabled = enabled && shouldEnableColor()
	c := &Color{
		add:     color.New(color.FgGreen),
		change:  color.New(color.FgYellow),
		destroy: color.New(color.FgRed),
		bold:    color.New(color.Bold),
	}
	for _, attr := range []*color.Color{c.add, c.change, c.destroy, c.bold} {
		if enabled {
			attr.EnableColor()
		} else {
			attr.DisableColor()
		}
	}
	return c
}

// shouldEnableColor determines if color should be enabled based on environment
func shouldEnableColor() bool {
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	term := os.Getenv("TERM")
	return term != "dumb" && term != ""
}

// Add colors a string to indicate additions
func (c *Color) Add(text string) string {
	return c.add.Sprint(text)
}

// Change colors a string to indicate rebuilds
func (c *Color) Change(text string) string {
	return c.change.Sprint(text)
}

// Destroy colors a string to indicate drops
func (c *Color) Destroy(text string) string {
	return c.destroy.Sprint(text)
}

// Bold makes text bold
func (c *Color) Bold(text string) string {
	return c.bold.Sprint(text)
}

// PlanSymbol returns the appropriate symbol for plan actions
func (c *Color) PlanSymbol(action string) string {
	switch action {
	case "add", "create":
		return c.Add("+")
	case "rebuild", "change":
		return c.Change("~")
	case "destroy", "drop":
		return c.Destroy("-")
	default:
		return " "
	}
}

// FormatPlanLine formats a line in Terraform plan style
func (c *Color) FormatPlanLine(action, name string) string {
	return fmt.Sprintf("  %s %s", c.PlanSymbol(action), name)
}

// FormatPlanHeader formats the main plan header
func (c *Color) FormatPlanHeader(added, rebuilt, dropped int) string {
	parts := []string{
		c.Add(fmt.Sprintf("%d to add", added)),
		c.Change(fmt.Sprintf("%d to rebuild", rebuilt)),
		c.Destroy(fmt.Sprintf("%d to drop", dropped)),
	}
	return fmt.Sprintf("Plan: %s.", strings.Join(parts, ", "))
}
