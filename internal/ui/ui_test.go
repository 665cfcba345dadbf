package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/matching"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/telemetry"
)

func init() {
	SetNoColor(true)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0s"},
		{-5, "0s"},
		{42, "42s"},
		{245, "4m05s"},
		{3720, "1h02m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestSwatchWithoutColor(t *testing.T) {
	assert.Equal(t, "#FF0000", Swatch("#FF0000"))
	assert.Equal(t, "-", Swatch(""))

	r, g, b, ok := parseHex("#10a0FF")
	require.True(t, ok)
	assert.Equal(t, []uint8{0x10, 0xa0, 0xff}, []uint8{r, g, b})
	_, _, _, ok = parseHex("red")
	assert.False(t, ok)
}

func TestVisibleLength(t *testing.T) {
	assert.Equal(t, 5, visibleLength("\033[1mhello\033[0m"))
	assert.Equal(t, 3, visibleLength("°C!"))
}

func TestRenderContextList(t *testing.T) {
	out := RenderContextList([]protocol.PrinterContext{
		{ID: "a", Name: "Left", Model: "AD5X", IPAddress: "10.0.0.2"},
		{ID: "b", Name: "Right", Model: "5M Pro"},
	}, "b")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "● "))
	assert.Contains(t, lines[0], "AD5X @ 10.0.0.2")

	assert.Contains(t, RenderContextList(nil, ""), "No printers")
}

func TestRenderDashboardFollowsLayout(t *testing.T) {
	d := Dashboard{
		Connected: true,
		Status: &protocol.PrinterStatus{
			PrinterState:         "printing",
			NozzleTemperature:    215,
			BedTemperature:       60,
			BedTargetTemperature: 60,
			JobName:              "benchy.gcode",
			Progress:             50,
		},
		Spool: &protocol.ActiveSpool{Name: "Galaxy Black", Material: "PLA", RemainingWeight: 740},
	}

	full := RenderDashboard(d, layout.Default())
	assert.Contains(t, full, "State: printing")
	assert.Contains(t, full, "benchy.gcode")
	assert.Contains(t, full, "Galaxy Black")
	assert.Contains(t, full, "60/60°C")

	onlyTemps := RenderDashboard(d, &layout.Layout{Panels: []string{layout.PanelTemperatures}})
	assert.NotContains(t, onlyTemps, "State:")
	assert.NotContains(t, onlyTemps, "benchy.gcode")
	assert.Contains(t, onlyTemps, "Nozzle: 215°C")
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▄█", sparkline([]float64{20, 120, 220}, 10))
	assert.Equal(t, "▁▁", sparkline([]float64{60, 60}, 10))
	assert.Equal(t, "▁█", sparkline([]float64{999, 10, 20}, 2), "only the newest values are kept")
	assert.Empty(t, sparkline(nil, 10))
}

func TestRenderDashboardTemperatureTrend(t *testing.T) {
	d := Dashboard{
		Connected: true,
		Status:    &protocol.PrinterStatus{NozzleTemperature: 215},
		Trend: []telemetry.Sample{
			{NozzleTemperature: 25},
			{NozzleTemperature: 215},
		},
	}
	temps := &layout.Layout{Panels: []string{layout.PanelTemperatures}}
	assert.Contains(t, RenderDashboard(d, temps), "▁█")

	d.Trend = d.Trend[:1]
	assert.NotContains(t, RenderDashboard(d, temps), "▁")
}

func TestRenderDashboardMaterialPanel(t *testing.T) {
	active := 1
	d := Dashboard{
		Connected: false,
		Status:    &protocol.PrinterStatus{PrinterState: "ready"},
		Features:  &protocol.PrinterFeatures{HasMaterialStation: true},
		Station: &protocol.MaterialStationStatus{
			Connected:  true,
			ActiveSlot: &active,
			Slots: []protocol.MaterialSlotInfo{
				{SlotID: 0, IsEmpty: true},
				{SlotID: 1, MaterialType: "PETG", MaterialColor: "#00FF00"},
			},
		},
	}
	out := RenderDashboard(d, &layout.Layout{Panels: []string{layout.PanelMaterial}})
	assert.Contains(t, out, "Disconnected")
	assert.Contains(t, out, "Slot 1  empty")
	assert.Contains(t, out, "> Slot 2  #00FF00 PETG")

	d.Features.HasMaterialStation = false
	out = RenderDashboard(d, &layout.Layout{Panels: []string{layout.PanelMaterial}})
	assert.NotContains(t, out, "Material station")
}

func TestRenderDashboardWaiting(t *testing.T) {
	out := RenderDashboard(Dashboard{Connected: true}, nil)
	assert.Contains(t, out, "Waiting for printer status")
}

func TestRenderJobs(t *testing.T) {
	out := RenderJobs([]protocol.JobFile{
		{FileName: "a.gcode", PrintingTime: 600},
		{FileName: "b.3mf", DisplayName: "Bracket", UseMatlStation: true, ToolDatas: []protocol.ToolData{{ToolID: 0}, {ToolID: 1}}},
	})
	assert.Contains(t, out, "a.gcode  10m00s")
	assert.Contains(t, out, "Bracket  [2 tools]")
	assert.Contains(t, out, "  b.3mf")
}

func TestMatchingCard(t *testing.T) {
	vm := matching.ViewModel{
		Open:     true,
		Filename: "multi.3mf",
		Tools: []matching.ToolView{
			{ToolID: 0, Label: "Tool 1", MaterialName: "PLA", MaterialColor: "#FFFFFF", MappedSlot: 2},
			{ToolID: 1, Label: "Tool 2", MaterialName: "PETG", Selected: true},
		},
		Slots: []matching.SlotView{
			{SlotID: 0, Label: "Slot 1", IsEmpty: true},
			{SlotID: 1, Label: "Slot 2", MaterialType: "PLA", AssignedTool: 1},
			{SlotID: 2, Label: "Slot 3", MaterialType: "PETG", Eligible: true},
		},
		Warning:     "Color differs",
		MappedCount: 1,
	}
	card := RenderMatchingCard(vm)
	assert.Contains(t, card, "Material Matching: multi.3mf")
	assert.Contains(t, card, "→ Slot 2")
	assert.Contains(t, card, "▶ Tool 2")
	assert.Contains(t, card, "← Tool 1")
	assert.Contains(t, card, "✓ Slot 3")
	assert.Contains(t, card, "Color differs")
	assert.Contains(t, card, "1/2 mapped")

	assert.Empty(t, RenderMatchingCard(matching.ViewModel{}))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"one two", "three"}, wrapText("one two three", 8))
	assert.Nil(t, wrapText("", 10))
}

func TestTerminalLayoutCapture(t *testing.T) {
	term := NewTerminal(&bytes.Buffer{}, &bytes.Buffer{})
	assert.Nil(t, term.CaptureLayout(), "nothing edited yet")

	term.ApplyLayout("SN1", &layout.Layout{Panels: []string{layout.PanelJob}})
	key, l := term.Layout()
	assert.Equal(t, "SN1", key)
	assert.Equal(t, []string{layout.PanelJob}, l.Panels)
	assert.Nil(t, term.CaptureLayout())

	term.SetLayout(&layout.Layout{Panels: []string{layout.PanelStatus}})
	captured := term.CaptureLayout()
	require.NotNil(t, captured)
	assert.Equal(t, []string{layout.PanelStatus}, captured.Panels)
	assert.Nil(t, term.CaptureLayout(), "capture clears the edit flag")

	term.ApplyLayout("SN2", nil)
	_, l = term.Layout()
	assert.Equal(t, layout.KnownPanels, l.Panels)
}

func TestTerminalNotices(t *testing.T) {
	var errOut bytes.Buffer
	term := NewTerminal(&bytes.Buffer{}, &errOut)

	term.Notify(notify.Success, "Switched")
	term.Notify(notify.Error, "Failed")
	term.Notify(notify.Warning, RenderError(errors.New("x")))

	assert.Equal(t, "✓ Switched\n✗ Failed\n! Error: x\n", errOut.String())
}

func TestTerminalWatch(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, &bytes.Buffer{})

	term.OnStatusUpdate("p1", protocol.PrinterStatus{})
	assert.Empty(t, out.String(), "no redraw unless watching")

	status := &protocol.PrinterStatus{PrinterState: "idle"}
	term.Watch(func() Dashboard {
		return Dashboard{Context: &protocol.PrinterContext{Name: "Left"}, Connected: true, Status: status}
	})
	term.OnStatusUpdate("p1", *status)
	assert.Contains(t, out.String(), "Left")
	assert.Contains(t, out.String(), "State: idle")

	term.Unwatch()
	out.Reset()
	term.OnStatusUpdate("p1", *status)
	assert.Empty(t, out.String())
}

func TestTerminalMatching(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, &bytes.Buffer{})

	term.RenderMatching(matching.ViewModel{Open: true, Filename: "x.3mf"})
	assert.Equal(t, "x.3mf", term.Matching().Filename)
	assert.Contains(t, out.String(), "x.3mf")

	term.JobStarted("x.3mf")
	assert.Contains(t, out.String(), "Started x.3mf")
}

func TestTerminalContextListing(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, &bytes.Buffer{})
	list := []protocol.PrinterContext{{ID: "a", Name: "Left"}}

	term.RenderContexts(list, "a")
	assert.Empty(t, out.String())

	term.ListContexts(true)
	term.RenderContexts(list, "a")
	assert.Contains(t, out.String(), "Left")
}

func TestSpinnerWithoutTerminalPrintsMessages(t *testing.T) {
	saved := isTTY
	isTTY = false
	defer func() { isTTY = saved }()

	var buf bytes.Buffer
	s := NewSpinnerTo(&buf, "Connecting...")
	s.Start()
	s.SetMessage("Switching to Right...")
	s.Stop()
	s.SetMessage("after stop")

	assert.Equal(t, "Connecting...\nSwitching to Right...\n", buf.String())
}
