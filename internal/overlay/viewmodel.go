package overlay

import "time"

// UIMode mirrors spec.md's OverlayViewModel.mode enum.
type UIMode string

const (
	ModeHidden     UIMode = "hidden"
	ModeListening  UIMode = "listening"
	ModeProcessing UIMode = "processing"
	ModeClosing    UIMode = "closing"
)

const (
	// MinBarPx and MaxBarPx bound spectrum bar height (spec.md: "map
	// linearly onto [MIN_BAR, MAX_BAR]").
	MinBarPx = 4
	MaxBarPx = 48
	// DefaultMarginFromBottomPx matches config.Default().
	DefaultMarginFromBottomPx = 50
)

// StateUpdate is the decoded payload from C10's state socket: a JSON
// object carrying the orchestrator's published Snapshot
// (internal/orchestrator.Snapshot), intentionally a same-shaped sibling
// type rather than a shared import, since spec.md documents the overlay
// as an independent consumer of the wire contract, not a code-level
// dependent of the orchestrator package.
type StateUpdate struct {
	Mode         string `json:"Mode"`
	PreListening bool   `json:"PreListening"`
	PartialText  string `json:"PartialText"`
	FinalText    string `json:"FinalText"`
}

// ViewModel is spec.md's OverlayViewModel: {mode, spectrum, text, fade,
// closing_progress, pre_listening}.
type ViewModel struct {
	Mode             UIMode
	Spectrum         [Bands]float32
	Text             string
	Fade             float32
	ClosingProgress  float32
	PreListening     bool
}

// StateMachine tracks the overlay's own UI mode and collapse-animation
// progress, driven by StateUpdate ticks and a render-cadence clock
// (spec.md §4.11's UI state machine + closing collapse animation).
type StateMachine struct {
	mode           UIMode
	preListening   bool
	text           string
	closingStarted time.Time
	closingMs      time.Duration
	now            func() time.Time
}

// NewStateMachine returns a StateMachine in ModeHidden. closingMs is the
// configured collapse-animation duration (config.Snapshot.CloseAnimationMs
// equivalent); now is injectable for deterministic tests.
func NewStateMachine(closingMs time.Duration, now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{mode: ModeHidden, closingMs: closingMs, now: now}
}

// Apply folds a StateUpdate into the state machine's current mode. The
// orchestrator's "idle" and "prelistening" states map to ModeHidden and
// ModeListening; the other state names equal their UIMode.
func (sm *StateMachine) Apply(u StateUpdate) {
	next := UIMode(u.Mode)
	switch u.Mode {
	case "idle":
		next = ModeHidden
	case "prelistening":
		next = ModeListening
	}
	if next == ModeClosing && sm.mode != ModeClosing {
		sm.closingStarted = sm.now()
	}
	sm.mode = next
	sm.preListening = u.PreListening
	if u.PartialText != "" {
		sm.text = u.PartialText
	}
	if u.FinalText != "" {
		sm.text = u.FinalText
	}
	if next == ModeHidden {
		sm.text = ""
	}
}

// Render produces this tick's ViewModel from the latest spectrum bands.
func (sm *StateMachine) Render(spectrum [Bands]float32) ViewModel {
	vm := ViewModel{
		Mode:         sm.mode,
		Spectrum:     spectrum,
		PreListening: sm.preListening,
		Fade:         1,
	}
	switch sm.mode {
	case ModeListening:
		vm.Text = sm.text
	case ModeProcessing:
		vm.Text = ""
	case ModeClosing:
		vm.ClosingProgress = sm.closingFraction()
		vm.Fade = 1 - vm.ClosingProgress
	case ModeHidden:
		vm.Fade = 0
	}
	return vm
}

func (sm *StateMachine) closingFraction() float32 {
	if sm.closingMs <= 0 {
		return 1
	}
	elapsed := sm.now().Sub(sm.closingStarted)
	frac := float32(elapsed) / float32(sm.closingMs)
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return frac
}

// BarHeightPx maps a normalized [0,1] band magnitude onto [MinBarPx,
// MaxBarPx] (spec.md: "map linearly").
func BarHeightPx(magnitude float32) int {
	if magnitude < 0 {
		magnitude = 0
	}
	if magnitude > 1 {
		magnitude = 1
	}
	return MinBarPx + int(magnitude*float32(MaxBarPx-MinBarPx))
}
