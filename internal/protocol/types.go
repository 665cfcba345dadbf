// Package protocol defines the wire types shared with the printer backend
package protocol

// PrinterContext is one configured printer as reported by the backend.
// A fetched set is always replaced wholesale, never patched.
type PrinterContext struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	IPAddress    string `json:"ipAddress"`
	SerialNumber string `json:"serialNumber"`
	IsActive     bool   `json:"isActive"`
}

// PersistenceKey returns the stable identity used for per-printer storage:
// the hardware serial when known, otherwise the context id.
func (c PrinterContext) PersistenceKey() string {
	if c.SerialNumber != "" {
		return c.SerialNumber
	}
	return c.ID
}

// PrinterStatus is one telemetry snapshot
type PrinterStatus struct {
	PrinterState            string  `json:"printerState"`
	BedTemperature          float64 `json:"bedTemperature"`
	BedTargetTemperature    float64 `json:"bedTargetTemperature"`
	NozzleTemperature       float64 `json:"nozzleTemperature"`
	NozzleTargetTemperature float64 `json:"nozzleTargetTemperature"`
	Progress                float64 `json:"progress"` // percent, 0-100
	CurrentLayer            int     `json:"currentLayer"`
	TotalLayers             int     `json:"totalLayers"`
	JobName                 string  `json:"jobName,omitempty"`
	ElapsedSeconds          int     `json:"printDuration"`
	RemainingSeconds        int     `json:"timeRemaining"`
	FiltrationMode          string  `json:"filtrationMode,omitempty"`
	CumulativeFilamentM     float64 `json:"cumulativeFilament"`
	CumulativePrintMinutes  int     `json:"cumulativePrintTime"`
	Thumbnail               string  `json:"thumbnail,omitempty"`
}

// PrinterFeatures are the capability flags of the active printer
type PrinterFeatures struct {
	HasCamera          bool `json:"hasCamera"`
	HasLED             bool `json:"hasLED"`
	HasFiltration      bool `json:"hasFiltration"`
	HasMaterialStation bool `json:"hasMaterialStation"`
	CanPause           bool `json:"canPause"`
	CanResume          bool `json:"canResume"`
	CanCancel          bool `json:"canCancel"`
}

// ActiveSpool is the spool currently assigned to a printer by the spool
// tracking integration
type ActiveSpool struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Vendor          string  `json:"vendor,omitempty"`
	Material        string  `json:"material"`
	ColorHex        string  `json:"colorHex"`
	RemainingWeight float64 `json:"remainingWeight"`
	RemainingLength float64 `json:"remainingLength"`
}

// ToolData is a job's declared material requirement for one tool head.
// ToolID is 0-based.
type ToolData struct {
	ToolID         int     `json:"toolId"`
	MaterialName   string  `json:"materialName"`
	MaterialColor  string  `json:"materialColor"`
	FilamentWeight float64 `json:"filamentWeight"`
	SlotID         *int    `json:"slotId,omitempty"`
}

// JobFile is the cached metadata for one printable file
type JobFile struct {
	FileName       string     `json:"fileName"`
	DisplayName    string     `json:"displayName,omitempty"`
	PrintingTime   int        `json:"printingTime,omitempty"`
	TotalFilament  float64    `json:"totalFilamentWeight,omitempty"`
	UseMatlStation bool       `json:"useMatlStation"`
	GcodeToolCnt   int        `json:"gcodeToolCnt"`
	ToolDatas      []ToolData `json:"toolDatas,omitempty"`
	Thumbnail      string     `json:"thumbnail,omitempty"`
}

// NeedsMaterialStation reports whether starting this job requires a
// tool-to-slot assignment.
func (j JobFile) NeedsMaterialStation() bool {
	return j.UseMatlStation && len(j.ToolDatas) > 0
}

// MaterialSlotInfo is the live state of one feeder slot. SlotID is 0-based.
type MaterialSlotInfo struct {
	SlotID        int    `json:"slotId"`
	IsEmpty       bool   `json:"isEmpty"`
	MaterialType  string `json:"materialType"`
	MaterialColor string `json:"materialColor"`
}

// MaterialStationStatus is the feeder inventory
type MaterialStationStatus struct {
	Connected     bool               `json:"connected"`
	Slots         []MaterialSlotInfo `json:"slots"`
	ActiveSlot    *int               `json:"activeSlot,omitempty"`
	OverallStatus string             `json:"overallStatus,omitempty"`
	ErrorMessage  string             `json:"errorMessage,omitempty"`
}

// Slot returns the slot with the given 0-based id
func (m *MaterialStationStatus) Slot(slotID int) (MaterialSlotInfo, bool) {
	if m == nil {
		return MaterialSlotInfo{}, false
	}
	for _, s := range m.Slots {
		if s.SlotID == slotID {
			return s, true
		}
	}
	return MaterialSlotInfo{}, false
}

// MaterialMapping assigns one tool to one feeder slot.
// SlotID is 1-based, as the backend expects it.
type MaterialMapping struct {
	ToolID            int    `json:"toolId"`
	SlotID            int    `json:"slotId"`
	MaterialName      string `json:"materialName"`
	ToolMaterialColor string `json:"toolMaterialColor"`
	SlotMaterialColor string `json:"slotMaterialColor"`
}

// PendingJobStart captures a start request that is waiting on material
// matching
type PendingJobStart struct {
	Filename string
	Leveling bool
	StartNow bool
	Job      JobFile
}
