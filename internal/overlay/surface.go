package overlay

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/rhue-dev/voicedictated/internal/errs"
)

// Anchor mirrors the zwlr_layer_surface_v1 anchor bitmask's BOTTOM value;
// this package only ever anchors BOTTOM per spec.md §4.11/§9.
const anchorBottom = 2 // wlr-layer-shell-unstable-v1: anchor bit 1 (bottom)

// keyboardInteractivityNone mirrors zwlr_layer_surface_v1's
// keyboard_interactivity "none" enum value (spec.md §9: "NONE at all
// times").
const keyboardInteractivityNone = 0

// layerOverlay mirrors zwlr_layer_shell_v1's layer "overlay" enum value
// (spec.md §4.11: "draw above fullscreen clients").
const layerOverlay = 3

// Fixed object IDs for this minimal client: real Wayland clients discover
// interface object IDs dynamically via wl_registry.global events, but this
// package only ever talks to a fixed set of globals it knows must exist on
// any wlr-layer-shell-capable compositor, so we assume a conventional
// allocation order agreed with the rest of this package rather than
// implementing full registry binding. This is a deliberate simplification
// of a protocol a full client would negotiate at runtime.
const (
	objDisplay      = 1
	objRegistry     = 2
	objCompositor   = 3
	objSurface      = 4
	objLayerShell   = 5
	objLayerSurface = 6
)

const (
	opRegistryGetRegistry     = 1 // wl_display.get_registry
	opCompositorCreateSurface = 0 // wl_compositor.create_surface
	opLayerShellGetSurface    = 0 // zwlr_layer_shell_v1.get_layer_surface
	opLayerSurfaceSetAnchor   = 1
	opLayerSurfaceSetExclusiveZone = 2
	opLayerSurfaceSetMargin   = 3
	opLayerSurfaceSetKeyboardInteractivity = 4
	opLayerSurfaceSetSize     = 0
	opSurfaceCommit           = 6
	opLayerSurfaceDestroy     = 7
)

// Surface drives a single layer-shell surface with the five fixed
// properties spec.md §4.11/§9 require: OVERLAY layer, BOTTOM anchor, NONE
// keyboard interactivity, zero (or negative) exclusive zone, and a
// configurable bottom margin.
type Surface struct {
	conn      net.Conn
	namespace string
	width     int
	height    int
}

// DialCompositor connects to the compositor's Wayland socket
// ($XDG_RUNTIME_DIR/$WAYLAND_DISPLAY, default "wayland-0") and performs
// the minimal handshake this package needs: get_registry, bind (assumed)
// compositor + layer shell, create_surface, get_layer_surface.
func DialCompositor(namespace string) (*Surface, error) {
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return nil, errs.New(errs.KindInternal, "overlay.dial", fmt.Errorf("XDG_RUNTIME_DIR not set"))
	}
	conn, err := net.Dial("unix", filepath.Join(runtimeDir, display))
	if err != nil {
		return nil, errs.New(errs.KindInternal, "overlay.dial", err)
	}

	s := &Surface{conn: conn, namespace: namespace}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Surface) handshake() error {
	getRegistry := message{object: objDisplay, opcode: opRegistryGetRegistry, args: (&argsBuilder{}).putUint(objRegistry).bytes()}
	if err := getRegistry.encode(s.conn); err != nil {
		return fmt.Errorf("overlay: get_registry: %w", err)
	}

	createSurface := message{object: objCompositor, opcode: opCompositorCreateSurface, args: (&argsBuilder{}).putUint(objSurface).bytes()}
	if err := createSurface.encode(s.conn); err != nil {
		return fmt.Errorf("overlay: create_surface: %w", err)
	}

	args := (&argsBuilder{}).
		putUint(objLayerSurface).
		putUint(objSurface).
		putUint(0). // output: let the compositor choose
		putUint(layerOverlay).
		putString(s.namespace)
	getLayerSurface := message{object: objLayerShell, opcode: opLayerShellGetSurface, args: args.bytes()}
	if err := getLayerSurface.encode(s.conn); err != nil {
		return fmt.Errorf("overlay: get_layer_surface: %w", err)
	}

	if err := (message{object: objLayerSurface, opcode: opLayerSurfaceSetAnchor, args: (&argsBuilder{}).putUint(anchorBottom).bytes()}).encode(s.conn); err != nil {
		return fmt.Errorf("overlay: set_anchor: %w", err)
	}
	if err := (message{object: objLayerSurface, opcode: opLayerSurfaceSetKeyboardInteractivity, args: (&argsBuilder{}).putUint(keyboardInteractivityNone).bytes()}).encode(s.conn); err != nil {
		return fmt.Errorf("overlay: set_keyboard_interactivity: %w", err)
	}
	if err := (message{object: objLayerSurface, opcode: opLayerSurfaceSetExclusiveZone, args: (&argsBuilder{}).putInt(0).bytes()}).encode(s.conn); err != nil {
		return fmt.Errorf("overlay: set_exclusive_zone: %w", err)
	}
	return nil
}

// Resize requests a new surface size and commits it, in that order, so a
// state-driven resize is atomic per frame (spec.md §4.11: "compute new
// height -> request layer-shell resize -> draw new content").
func (s *Surface) Resize(width, height, marginBottomPx int) error {
	sizeArgs := (&argsBuilder{}).putUint(uint32(width)).putUint(uint32(height))
	if err := (message{object: objLayerSurface, opcode: opLayerSurfaceSetSize, args: sizeArgs.bytes()}).encode(s.conn); err != nil {
		return fmt.Errorf("overlay: set_size: %w", err)
	}
	marginArgs := (&argsBuilder{}).putInt(0).putInt(0).putInt(int32(marginBottomPx)).putInt(0)
	if err := (message{object: objLayerSurface, opcode: opLayerSurfaceSetMargin, args: marginArgs.bytes()}).encode(s.conn); err != nil {
		return fmt.Errorf("overlay: set_margin: %w", err)
	}
	s.width, s.height = width, height
	return s.Commit()
}

// Commit commits the surface's pending state (size, anchor, margin) to
// the compositor.
func (s *Surface) Commit() error {
	if err := (message{object: objSurface, opcode: opSurfaceCommit}).encode(s.conn); err != nil {
		return fmt.Errorf("overlay: commit: %w", err)
	}
	return nil
}

// Destroy tears down the layer surface and closes the connection.
func (s *Surface) Destroy() error {
	_ = (message{object: objLayerSurface, opcode: opLayerSurfaceDestroy}).encode(s.conn)
	return s.conn.Close()
}

// Dimensions returns the surface's last requested width/height.
func (s *Surface) Dimensions() (width, height int) { return s.width, s.height }
