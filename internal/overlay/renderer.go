package overlay

import (
	"context"
	"log/slog"
	"time"
)

// RenderTick is the 60 Hz target cadence (spec.md §4.11: "60 Hz target").
const RenderTick = time.Second / 60

// minListeningHeightPx and textLineHeightPx size the surface's listening
// state (spec.md: "window height grows to accommodate text", "up to two
// lines of preview text").
const (
	minListeningHeightPx = MaxBarPx + 16
	textLineHeightPx     = 20
	maxPreviewLines      = 2
	spinnerHeightPx      = MaxBarPx
)

// FrameRenderer draws one ViewModel's content into the surface's buffer.
// Pixel content (spectrum bars, glyph rendering, spinner animation) has no
// counterpart third-party library in the retrieval pack, so it is left as
// a pluggable seam: production wiring supplies a concrete implementation,
// and this package owns only the layer-shell lifecycle (resize/commit)
// that must stay correct regardless of what draws the pixels.
type FrameRenderer interface {
	Draw(vm ViewModel, widthPx, heightPx int) error
}

// noopRenderer logs what it would have drawn; used when no FrameRenderer
// is configured so the surface lifecycle can still be exercised end to
// end.
type noopRenderer struct{ log *slog.Logger }

func (n noopRenderer) Draw(vm ViewModel, widthPx, heightPx int) error {
	n.log.Debug("draw", "mode", vm.Mode, "w", widthPx, "h", heightPx, "text", vm.Text)
	return nil
}

// Renderer drives the 60 Hz render loop: pull latest audio/state from
// Client, advance the UI StateMachine, compute this tick's height, resize
// the Surface atomically, then hand off to FrameRenderer.
type Renderer struct {
	client   *Client
	analyzer *SpectrumAnalyzer
	sm       *StateMachine
	surface  *Surface
	draw     FrameRenderer
	widthPx  int
	marginPx int
	log      *slog.Logger
}

// NewRenderer wires a Renderer from its collaborators. widthPx is the
// surface's fixed width; marginPx is the configured bottom margin
// (config.Snapshot.MarginFromBottomPx).
func NewRenderer(client *Client, analyzer *SpectrumAnalyzer, sm *StateMachine, surface *Surface, draw FrameRenderer, widthPx, marginPx int) *Renderer {
	log := slog.Default().With("component", "overlay.renderer")
	if draw == nil {
		draw = noopRenderer{log: log}
	}
	return &Renderer{client: client, analyzer: analyzer, sm: sm, surface: surface, draw: draw, widthPx: widthPx, marginPx: marginPx, log: log}
}

// Run ticks at RenderTick until ctx is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	ticker := time.NewTicker(RenderTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Renderer) tick() {
	if u, ok := r.client.LatestState(); ok {
		r.sm.Apply(u)
	}
	var spectrum [Bands]float32
	if f, ok := r.client.LatestFrame(); ok {
		spectrum = r.analyzer.Analyze(f.Samples[:])
	}
	vm := r.sm.Render(spectrum)

	height := heightForMode(vm)
	if err := r.surface.Resize(r.widthPx, height, r.marginPx); err != nil {
		r.log.Warn("resize failed", "err", err)
		return
	}
	if err := r.draw.Draw(vm, r.widthPx, height); err != nil {
		r.log.Warn("draw failed", "err", err)
	}
}

// heightForMode computes the surface height for vm.Mode (spec.md §4.11's
// UI state machine: hidden collapses to empty/destroyed, listening grows
// for up to two lines of text, processing shows a fixed-height spinner,
// closing interpolates from listening height down to zero).
func heightForMode(vm ViewModel) int {
	switch vm.Mode {
	case ModeHidden:
		return 0
	case ModeProcessing:
		return spinnerHeightPx
	case ModeListening:
		return minListeningHeightPx + previewLines(vm.Text)*textLineHeightPx
	case ModeClosing:
		full := minListeningHeightPx + maxPreviewLines*textLineHeightPx
		return int(float32(full) * (1 - vm.ClosingProgress))
	default:
		return 0
	}
}

func previewLines(text string) int {
	if text == "" {
		return 0
	}
	return maxPreviewLines
}
