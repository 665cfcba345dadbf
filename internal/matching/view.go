package matching

import (
	"fmt"
	"sort"
)

// ViewModel is everything a renderer needs to draw the matching dialog.
// Labels are already 1-based.
type ViewModel struct {
	Open           bool
	SessionID      string
	Filename       string
	Tools          []ToolView
	Slots          []SlotView
	StationLoading bool
	StationError   string
	Message        string
	Warning        string
	MappedCount    int
	ConfirmEnabled bool
	Submitting     bool
}

// ToolView is one tool requirement row
type ToolView struct {
	ToolID        int
	Label         string
	MaterialName  string
	MaterialColor string
	Selected      bool
	// MappedSlot is the 1-based slot the tool is mapped to, 0 when unmapped
	MappedSlot int
}

// SlotView is one feeder slot
type SlotView struct {
	SlotID        int
	Label         string
	MaterialType  string
	MaterialColor string
	IsEmpty       bool
	// AssignedTool is the 1-based tool mapped to this slot, 0 when free
	AssignedTool int
	// Eligible is true when the selected tool could be mapped here
	Eligible bool
}

func (e *Engine) viewModelLocked() ViewModel {
	s := e.sess
	if s == nil {
		return ViewModel{}
	}

	vm := ViewModel{
		Open:           true,
		SessionID:      s.id,
		Filename:       s.pending.Filename,
		StationLoading: s.loading,
		StationError:   s.stationErr,
		Message:        s.message,
		Warning:        s.warning,
		MappedCount:    len(s.mappings),
		ConfirmEnabled: s.complete() && !s.submitting,
		Submitting:     s.submitting,
	}

	for _, t := range s.pending.Job.ToolDatas {
		tv := ToolView{
			ToolID:        t.ToolID,
			Label:         fmt.Sprintf("Tool %d", t.ToolID+1),
			MaterialName:  t.MaterialName,
			MaterialColor: t.MaterialColor,
			Selected:      s.selectedTool != nil && *s.selectedTool == t.ToolID,
		}
		if m, ok := s.mappings[t.ToolID]; ok {
			tv.MappedSlot = m.SlotID
		}
		vm.Tools = append(vm.Tools, tv)
	}
	sort.Slice(vm.Tools, func(i, j int) bool { return vm.Tools[i].ToolID < vm.Tools[j].ToolID })

	if s.station != nil {
		var selected *ToolView
		for i := range vm.Tools {
			if vm.Tools[i].Selected {
				selected = &vm.Tools[i]
			}
		}
		for _, slot := range s.station.Slots {
			sv := SlotView{
				SlotID:        slot.SlotID,
				Label:         fmt.Sprintf("Slot %d", slot.SlotID+1),
				MaterialType:  slot.MaterialType,
				MaterialColor: slot.MaterialColor,
				IsEmpty:       slot.IsEmpty,
			}
			for _, m := range s.mappings {
				if m.SlotID == slot.SlotID+1 {
					sv.AssignedTool = m.ToolID + 1
				}
			}
			if selected != nil && !slot.IsEmpty && sameText(selected.MaterialName, slot.MaterialType) {
				sv.Eligible = sv.AssignedTool == 0 || sv.AssignedTool == selected.ToolID+1
			}
			vm.Slots = append(vm.Slots, sv)
		}
		sort.Slice(vm.Slots, func(i, j int) bool { return vm.Slots[i].SlotID < vm.Slots[j].SlotID })
	}
	return vm
}
