package ui

import (
	"fmt"
	"strings"

	"github.com/fabdeck/fabdeck/internal/matching"
)

// RenderMatchingCard draws the material matching dialog: the job's tool
// requirements on top, the feeder slots below
func RenderMatchingCard(vm matching.ViewModel) string {
	if !vm.Open {
		return ""
	}
	width := boxWidth
	var sb strings.Builder

	title := fmt.Sprintf(" Material Matching: %s ", truncate(vm.Filename, width-28))
	topPadding := width - 4 - visibleLength(title)
	if topPadding < 0 {
		topPadding = 0
	}
	sb.WriteString(Color(Magenta, BoxTopLeft+strings.Repeat(BoxHorizontal, 2)+title+strings.Repeat(BoxHorizontal, topPadding)+BoxTopRight))
	sb.WriteString("\n")

	sb.WriteString(cardLine(Color(Bold, "Tools"), width))
	for _, t := range vm.Tools {
		marker := " "
		if t.Selected {
			marker = Color(Cyan, "▶")
		}
		target := Color(Dim, "unmapped")
		if t.MappedSlot > 0 {
			target = Color(Green, fmt.Sprintf("→ Slot %d", t.MappedSlot))
		}
		sb.WriteString(cardLine(fmt.Sprintf("%s %s  %s %-8s %s", marker, t.Label, Swatch(t.MaterialColor), t.MaterialName, target), width))
	}

	sb.WriteString(Color(Magenta, BoxTeeRight+strings.Repeat(BoxHorizontal, width-2)+BoxTeeLeft))
	sb.WriteString("\n")

	sb.WriteString(cardLine(Color(Bold, "Slots"), width))
	switch {
	case vm.StationLoading:
		sb.WriteString(cardLine(Color(Dim, "Loading material station..."), width))
	case vm.StationError != "":
		sb.WriteString(cardLine(Color(Red, vm.StationError), width))
	}
	for _, s := range vm.Slots {
		var line string
		switch {
		case s.IsEmpty:
			line = fmt.Sprintf("  %s  %s", s.Label, Color(Dim, "empty"))
		case s.AssignedTool > 0:
			line = fmt.Sprintf("  %s  %s %-8s %s", s.Label, Swatch(s.MaterialColor), s.MaterialType, Color(Green, fmt.Sprintf("← Tool %d", s.AssignedTool)))
		default:
			line = fmt.Sprintf("  %s  %s %s", s.Label, Swatch(s.MaterialColor), s.MaterialType)
		}
		if s.Eligible {
			line = Color(Cyan, "✓") + line[1:]
		}
		sb.WriteString(cardLine(line, width))
	}

	if vm.Warning != "" || vm.Message != "" {
		sb.WriteString(Color(Magenta, BoxTeeRight+strings.Repeat(BoxHorizontal, width-2)+BoxTeeLeft))
		sb.WriteString("\n")
		for _, l := range wrapText(vm.Warning, width-4) {
			sb.WriteString(cardLine(Color(Yellow, l), width))
		}
		for _, l := range wrapText(vm.Message, width-4) {
			sb.WriteString(cardLine(Color(Red, l), width))
		}
	}

	status := fmt.Sprintf("%d/%d mapped", vm.MappedCount, len(vm.Tools))
	switch {
	case vm.Submitting:
		status += "  " + Color(Yellow, "starting...")
	case vm.ConfirmEnabled:
		status += "  " + Color(Green, "ready to start")
	}
	sb.WriteString(cardLine(Color(Dim, status), width))

	sb.WriteString(Color(Magenta, BoxBottomLeft+strings.Repeat(BoxHorizontal, width-2)+BoxBottomRight))
	sb.WriteString("\n")
	return sb.String()
}

func cardLine(text string, width int) string {
	padding := width - 3 - visibleLength(text)
	if padding < 0 {
		padding = 0
	}
	return Color(Magenta, BoxVertical) + " " + text + strings.Repeat(" ", padding) + Color(Magenta, BoxVertical) + "\n"
}

// truncate shortens a string if it exceeds maxLen
func truncate(s string, maxLen int) string {
	if maxLen <= 3 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// wrapText wraps text to fit within the specified width
func wrapText(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}

	var lines []string
	var current string
	for _, word := range strings.Fields(s) {
		if len(current)+len(word)+1 > width {
			if current != "" {
				lines = append(lines, current)
			}
			current = word
			continue
		}
		if current != "" {
			current += " "
		}
		current += word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
