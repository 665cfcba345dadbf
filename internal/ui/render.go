package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/telemetry"
)

const boxWidth = 64

// RenderHeader draws the title box with the backend and active printer
func RenderHeader(version, serverURL, printer string) string {
	var sb strings.Builder

	titleText := fmt.Sprintf(" FabDeck v%s ", version)
	leftDashes := 3
	rightDashes := boxWidth - 2 - leftDashes - utf8.RuneCountInString(titleText)
	if rightDashes < 0 {
		rightDashes = 0
	}

	sb.WriteString(Color(Cyan, BoxTopLeft+strings.Repeat(BoxHorizontal, leftDashes)))
	sb.WriteString(Color(Cyan+Bold, titleText))
	sb.WriteString(Color(Cyan, strings.Repeat(BoxHorizontal, rightDashes)+BoxTopRight))
	sb.WriteString("\n")
	sb.WriteString(formatCenteredLine(Color(Bold, printer), boxWidth))
	sb.WriteString(formatCenteredLine(Color(Dim, serverURL), boxWidth))
	sb.WriteString(Color(Cyan, BoxBottomLeft+strings.Repeat(BoxHorizontal, boxWidth-2)+BoxBottomRight))
	sb.WriteString("\n")
	return sb.String()
}

// formatCenteredLine creates a centered line within the box
func formatCenteredLine(text string, width int) string {
	visibleLen := visibleLength(text)
	padding := (width - 2 - visibleLen) / 2
	rightPadding := width - 2 - padding - visibleLen
	if padding < 0 {
		padding = 0
	}
	if rightPadding < 0 {
		rightPadding = 0
	}
	return Color(Cyan, BoxVertical) +
		strings.Repeat(" ", padding) + text + strings.Repeat(" ", rightPadding) +
		Color(Cyan, BoxVertical) + "\n"
}

// visibleLength returns the printed width of s, ignoring ANSI codes
func visibleLength(s string) int {
	inEscape := false
	visible := 0
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		visible++
	}
	return visible
}

// RenderContextList lists the configured printers, marking the active one
func RenderContextList(contexts []protocol.PrinterContext, activeID string) string {
	if len(contexts) == 0 {
		return Color(Dim, "No printers configured") + "\n"
	}
	var sb strings.Builder
	for _, c := range contexts {
		marker := "  "
		name := c.Name
		if c.ID == activeID {
			marker = Color(Green, "● ")
			name = Color(Bold, name)
		}
		detail := c.Model
		if c.IPAddress != "" {
			detail += " @ " + c.IPAddress
		}
		fmt.Fprintf(&sb, "%s%-24s %s %s\n", marker, name, Color(Dim, c.ID), Color(Dim, detail))
	}
	return sb.String()
}

// Dashboard is everything the status view can show
type Dashboard struct {
	Context   *protocol.PrinterContext
	Connected bool
	Status    *protocol.PrinterStatus
	Features  *protocol.PrinterFeatures
	Spool     *protocol.ActiveSpool
	Station   *protocol.MaterialStationStatus
	// Trend is the recent telemetry of the active printer, oldest first
	Trend []telemetry.Sample
}

// RenderDashboard draws the panels of l in order. Panels with nothing to
// show are skipped.
func RenderDashboard(d Dashboard, l *layout.Layout) string {
	if l == nil {
		l = layout.Default()
	}
	var sb strings.Builder
	if !d.Connected {
		sb.WriteString(Color(Yellow, "Disconnected from backend") + "\n")
	}
	if d.Status == nil {
		sb.WriteString(Color(Dim, "Waiting for printer status...") + "\n")
		return sb.String()
	}
	for _, panel := range l.Panels {
		sb.WriteString(renderPanel(panel, d))
	}
	return sb.String()
}

func renderPanel(panel string, d Dashboard) string {
	s := d.Status
	switch panel {
	case layout.PanelStatus:
		return fmt.Sprintf("%s %s\n", Color(Dim, "State:"), Color(Bold+StateColor(s.PrinterState), s.PrinterState))
	case layout.PanelTemperatures:
		line := fmt.Sprintf("%s %s  %s %s",
			Color(Dim, "Nozzle:"), formatTemp(s.NozzleTemperature, s.NozzleTargetTemperature),
			Color(Dim, "Bed:"), formatTemp(s.BedTemperature, s.BedTargetTemperature))
		if len(d.Trend) > 1 {
			nozzle := make([]float64, len(d.Trend))
			for i, sample := range d.Trend {
				nozzle[i] = sample.NozzleTemperature
			}
			line += "  " + Color(Cyan, sparkline(nozzle, trendWidth))
		}
		return line + "\n"
	case layout.PanelJob:
		if s.JobName == "" {
			return fmt.Sprintf("%s %s\n", Color(Dim, "Job:"), Color(Dim, "none"))
		}
		return fmt.Sprintf("%s %s\n  %s %s  layer %d/%d  %s elapsed, %s left\n",
			Color(Dim, "Job:"), s.JobName,
			progressBar(s.Progress, 20), fmt.Sprintf("%5.1f%%", s.Progress),
			s.CurrentLayer, s.TotalLayers,
			FormatDuration(s.ElapsedSeconds), FormatDuration(s.RemainingSeconds))
	case layout.PanelMaterial:
		if d.Features == nil || !d.Features.HasMaterialStation || d.Station == nil {
			return ""
		}
		return renderStation(d.Station)
	case layout.PanelSpool:
		if d.Spool == nil {
			return ""
		}
		return fmt.Sprintf("%s %s %s %s, %.0fg left\n",
			Color(Dim, "Spool:"), Swatch(d.Spool.ColorHex), d.Spool.Name, d.Spool.Material, d.Spool.RemainingWeight)
	case layout.PanelCounters:
		return fmt.Sprintf("%s %.1fm filament, %s printing\n",
			Color(Dim, "Lifetime:"), s.CumulativeFilamentM, FormatDuration(s.CumulativePrintMinutes*60))
	default:
		return ""
	}
}

func renderStation(st *protocol.MaterialStationStatus) string {
	var sb strings.Builder
	sb.WriteString(Color(Dim, "Material station:"))
	if !st.Connected {
		sb.WriteString(" " + Color(Yellow, "not connected") + "\n")
		return sb.String()
	}
	sb.WriteString("\n")
	for _, slot := range st.Slots {
		active := " "
		if st.ActiveSlot != nil && *st.ActiveSlot == slot.SlotID {
			active = Color(Green, ">")
		}
		if slot.IsEmpty {
			fmt.Fprintf(&sb, " %s Slot %d  %s\n", active, slot.SlotID+1, Color(Dim, "empty"))
			continue
		}
		fmt.Fprintf(&sb, " %s Slot %d  %s %s\n", active, slot.SlotID+1, Swatch(slot.MaterialColor), slot.MaterialType)
	}
	return sb.String()
}

const trendWidth = 24

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline draws the last width values scaled between their min and max
func sparkline(values []float64, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	out := make([]rune, len(values))
	for i, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}

func formatTemp(current, target float64) string {
	if target <= 0 {
		return fmt.Sprintf("%.0f°C", current)
	}
	return fmt.Sprintf("%.0f/%.0f°C", current, target)
}

func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return Color(Green, strings.Repeat("█", filled)) + Color(Dim, strings.Repeat("░", width-filled))
}

// FormatDuration renders seconds as 1h02m or 4m05s
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// RenderJobs lists job files with their material requirements
func RenderJobs(jobs []protocol.JobFile) string {
	if len(jobs) == 0 {
		return Color(Dim, "No jobs") + "\n"
	}
	var sb strings.Builder
	for _, j := range jobs {
		name := j.DisplayName
		if name == "" {
			name = j.FileName
		}
		fmt.Fprintf(&sb, "%s", Color(Bold, name))
		if j.PrintingTime > 0 {
			fmt.Fprintf(&sb, "  %s", Color(Dim, FormatDuration(j.PrintingTime)))
		}
		if j.NeedsMaterialStation() {
			fmt.Fprintf(&sb, "  %s", Color(Magenta, fmt.Sprintf("[%d tools]", len(j.ToolDatas))))
		}
		sb.WriteString("\n")
		if name != j.FileName {
			fmt.Fprintf(&sb, "  %s\n", Color(Dim, j.FileName))
		}
	}
	return sb.String()
}

// RenderError formats an error message
func RenderError(err error) string {
	return Color(Red, fmt.Sprintf("Error: %v", err))
}

// RenderSuccess formats a success message
func RenderSuccess(msg string) string {
	return Color(Green, msg)
}

// RenderWarning formats a warning message
func RenderWarning(msg string) string {
	return Color(Yellow, msg)
}

// RenderDim formats text in dim style
func RenderDim(msg string) string {
	return Color(Dim, msg)
}
