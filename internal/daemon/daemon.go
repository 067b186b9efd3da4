// Package daemon wires together every component (C1-C11) into the running
// service process: socket directory lifecycle, audio capture pumped
// through VAD into the session orchestrator, the control socket as the
// orchestrator's command source, and the overlay broadcaster as its event
// sink, per spec.md §5 ("process-wide state") and §4.9's data-flow notes.
//
// Grounded on the teacher's server/main.go / server/cli.go startup
// sequencing (open listeners, start background tasks, wait on signals) and
// glyphoxa's SessionManager for ordered teardown via closers.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rhue-dev/voicedictated/internal/audio"
	"github.com/rhue-dev/voicedictated/internal/broadcast"
	"github.com/rhue-dev/voicedictated/internal/config"
	"github.com/rhue-dev/voicedictated/internal/controlsock"
	"github.com/rhue-dev/voicedictated/internal/emitter"
	"github.com/rhue-dev/voicedictated/internal/errs"
	"github.com/rhue-dev/voicedictated/internal/orchestrator"
	"github.com/rhue-dev/voicedictated/internal/overlay"
	"github.com/rhue-dev/voicedictated/internal/postprocess"
	"github.com/rhue-dev/voicedictated/internal/recognizer"
	"github.com/rhue-dev/voicedictated/internal/recording"
	"github.com/rhue-dev/voicedictated/internal/ring"
	"github.com/rhue-dev/voicedictated/internal/vad"
)

// audioRingCapacity bounds how far a consumer (VAD, overlay) may fall
// behind capture before it starts skipping frames (spec.md C1: "bounded,
// lossy").
const audioRingCapacity = 256

// overlayWidthPx is the layer-shell surface's fixed width; only height
// varies with UI mode (spec.md §4.11).
const overlayWidthPx = 420

// SocketDir returns the fixed directory under which all three sockets are
// created, preferring $XDG_RUNTIME_DIR over /tmp per spec.md §5/§6.
func SocketDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "voice-dictation")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("voice-dictation-%d", os.Getuid()))
}

// Paths holds the three socket paths derived from a single directory.
type Paths struct {
	Control string
	Audio   string
	State   string
}

// PidPath returns the path of the daemon's pidfile under dir, written at
// startup so `voicedictated config reload` can locate the running process
// to signal (SPEC_FULL's supplemented config-hot-reload feature).
func PidPath(dir string) string {
	return filepath.Join(dir, "daemon.pid")
}

// PathsIn returns the three socket paths under dir.
func PathsIn(dir string) Paths {
	return Paths{
		Control: filepath.Join(dir, "control.sock"),
		Audio:   filepath.Join(dir, "audio.sock"),
		State:   filepath.Join(dir, "state.sock"),
	}
}

// Daemon owns every long-lived component and the ordered teardown of all
// of them, grounded on glyphoxa's SessionManager closers idiom.
type Daemon struct {
	log     *slog.Logger
	cfg     *config.Store
	cfgPath string
	dir     string
	paths   Paths

	orch      *orchestrator.Orchestrator
	ctrl      *controlsock.Server
	audioBus  *broadcast.AudioBroadcaster
	stateBus  *broadcast.StateBroadcaster
	capture   *audio.Capture
	audioRing *ring.Ring[audio.Frame]
	vadGate   *vad.Gate

	overlayClient      *overlay.Client
	overlayAnalyzer    *overlay.SpectrumAnalyzer
	overlaySM          *overlay.StateMachine
	marginFromBottomPx int

	closers []func() error
}

// New constructs a Daemon from snap, binding no sockets yet; call Run to
// start serving.
func New(snap config.Snapshot, cfgPath string) (*Daemon, error) {
	dir := SocketDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.New(errs.KindSocketBindFailed, "daemon.mkdir", err)
	}

	d := &Daemon{
		log:     slog.Default().With("component", "daemon"),
		cfg:     config.NewStore(snap),
		cfgPath: cfgPath,
		dir:     dir,
		paths:   PathsIn(dir),
	}

	d.audioRing = ring.New[audio.Frame](audioRingCapacity)
	d.audioBus = broadcast.NewAudioBroadcaster()
	d.stateBus = broadcast.NewStateBroadcaster(broadcast.DefaultStateQueueDepth)

	d.vadGate = vad.New(
		vad.WithThresholdDB(snap.EnergyThresholdDB),
		vad.WithSpeechTrigger(snap.SpeechTriggerFrames),
		vad.WithSilenceTrigger(snap.SilenceTriggerFrames),
	)

	live, batch, err := buildEngines(snap)
	if err != nil {
		return nil, err
	}

	post := postprocess.New(postprocess.Options{
		EnableGrammarPass:     snap.GrammarPass,
		DisableAcronymFolding: !snap.AcronymFolding,
		DisableCapitalization: !snap.Capitalization,
	})
	emit := emitter.New(
		emitter.WithCharDelay(time.Duration(snap.TypingDelayMs)*time.Millisecond),
		emitter.WithWordDelay(time.Duration(snap.WordDelayMs)*time.Millisecond),
	)

	var recorder *recording.Recorder
	if snap.DebugRecord {
		recDir, err := recording.DefaultDir()
		if err != nil {
			return nil, errs.New(errs.KindInternal, "daemon.recording_dir", err)
		}
		recorder = recording.New(recDir, 0)
	}

	d.orch = orchestrator.New(orchestrator.Deps{
		Live:     live,
		Batch:    batch,
		Post:     post,
		Emit:     emit,
		Recorder: recorder,
		OnState:  d.publishState,
	})

	d.ctrl = controlsock.New(d.paths.Control, d.orch.HandleVerb)

	d.capture = audio.NewCapture(-1, d.audioRing)

	d.overlayClient = overlay.NewClient()
	d.overlayAnalyzer = overlay.NewSpectrumAnalyzer(audio.FrameSamples, float64(snap.SampleRate))
	d.overlaySM = overlay.NewStateMachine(time.Duration(snap.CloseAnimationMs)*time.Millisecond, nil)
	d.marginFromBottomPx = snap.MarginFromBottomPx

	return d, nil
}

// buildEngines selects the Live/Batch recognizer implementations named by
// snap (falling back to the always-available native-or-stub factories; see
// recognizer.NewLiveEngineForConfig/NewBatchEngineForConfig).
func buildEngines(snap config.Snapshot) (recognizer.Live, recognizer.Batch, error) {
	livePath := snap.PreviewModelCustom
	live, err := recognizer.NewLiveEngineForConfig("", livePath, identityDecode)
	if err != nil {
		return nil, nil, errs.New(errs.KindModelLoadFailed, "daemon.live_model", err)
	}
	batchPath := snap.FinalModelCustom
	batch, err := recognizer.NewBatchEngineForConfig(batchPath, snap.Language)
	if err != nil {
		return nil, nil, errs.New(errs.KindModelLoadFailed, "daemon.final_model", err)
	}
	return live, batch, nil
}

// identityDecode is the placeholder decode function handed to the ONNX
// live engine: this project has no concrete streaming-model vocabulary, so
// a real deployment supplies its own decode via configuration; absent
// that, decoding degenerates to silence (empty token per step).
func identityDecode(_ []float32) string { return "" }

// Run binds all three sockets, starts every background task, and blocks
// until ctx is cancelled, then tears everything down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	pidPath := PidPath(d.dir)
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		return errs.New(errs.KindSocketBindFailed, "daemon.pidfile", err)
	}
	d.addCloser(func() error { return os.Remove(pidPath) })

	if err := d.ctrl.Bind(); err != nil {
		return err
	}
	d.addCloser(d.ctrl.Close)

	audioLn, err := broadcast.ListenUnix(d.paths.Audio)
	if err != nil {
		return err
	}
	d.addCloser(audioLn.Close)

	stateLn, err := broadcast.ListenUnix(d.paths.State)
	if err != nil {
		return err
	}
	d.addCloser(stateLn.Close)

	defer d.teardown()

	go func() { _ = d.orch.Run(ctx) }()
	go func() { _ = d.ctrl.Serve(ctx) }()
	go func() { _ = d.audioBus.Serve(ctx, audioLn) }()
	go func() { _ = d.stateBus.Serve(ctx, stateLn) }()
	go d.pumpCapture(ctx)
	go func() {
		if err := d.capture.Run(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("audio capture exited", "err", err)
		}
	}()

	d.startOverlay(ctx)

	d.log.Info("daemon started", "dir", d.dir)
	<-ctx.Done()
	return nil
}

// startOverlay dials the overlay client into this daemon's own broadcast
// sockets and, if a compositor socket is reachable, opens the layer-shell
// surface and starts the 60 Hz render loop. Per spec.md §9's open question
// on overlay integration, this runs in-process (no separate binary or UI
// toolkit is needed for the hand-rolled layer-shell client), and failure
// to reach a compositor is non-fatal: the daemon is fully usable headless,
// the overlay is best-effort.
func (d *Daemon) startOverlay(ctx context.Context) {
	audioConn, err := d.overlayClient.DialAudio(d.paths.Audio)
	if err != nil {
		d.log.Warn("overlay: dial audio socket failed", "err", err)
		return
	}
	d.addCloser(audioConn.Close)

	stateConn, err := d.overlayClient.DialState(d.paths.State)
	if err != nil {
		d.log.Warn("overlay: dial state socket failed", "err", err)
		return
	}
	d.addCloser(stateConn.Close)

	surface, err := overlay.DialCompositor("voice-dictation-overlay")
	if err != nil {
		d.log.Warn("overlay: no compositor reachable, running headless", "err", err)
		return
	}
	d.addCloser(surface.Destroy)

	renderer := overlay.NewRenderer(d.overlayClient, d.overlayAnalyzer, d.overlaySM, surface, nil, overlayWidthPx, d.marginFromBottomPx)
	go func() {
		if err := renderer.Run(ctx); err != nil {
			d.log.Warn("overlay renderer exited", "err", err)
		}
	}()
}

// pumpCapture reads every captured frame and both feeds it to the VAD gate
// (producing SpeechStart/SpeechEnd events for the orchestrator) and
// publishes it to the audio broadcaster, matching spec.md §4.9's
// "C1 -> C3 -> C9" and "C1 -> C10-audio" data flow.
func (d *Daemon) pumpCapture(ctx context.Context) {
	cursor := d.audioRing.NewCursor()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f, skip, ok := d.audioRing.Read(cursor)
		if !ok {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		if skip > 0 {
			d.log.Warn("pumpCapture fell behind, skipped frames", "skipped", skip)
		}
		d.audioBus.Publish(f)
		d.orch.FeedFrame(ctx, f)
		if ev := d.vadGate.Process(f); ev != nil {
			d.orch.FeedVadEvent(ctx, *ev)
		}
	}
}

// publishState marshals an orchestrator.Snapshot into the state socket's
// length-prefixed payload (spec.md §4.10: "one line per field-update, or a
// single serialized object per update"); this daemon sends one small JSON
// object per update.
func (d *Daemon) publishState(s orchestrator.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		d.log.Error("marshal state snapshot", "err", err)
		return
	}
	d.stateBus.Publish(payload)
}

// Snapshot returns the Daemon's currently active config snapshot.
func (d *Daemon) Snapshot() config.Snapshot {
	return d.cfg.Current()
}

// Reload re-reads the config file the Daemon was started with and swaps
// in the new snapshot, fail-closed on error (spec.md §3). The new snapshot
// is what Snapshot returns afterwards; the VAD gate, post-processor,
// emitter and overlay state machine built in New are not rebuilt, so they
// keep the values they were constructed with for every later session.
func (d *Daemon) Reload() error {
	return d.cfg.Reload(d.cfgPath)
}

func (d *Daemon) addCloser(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *Daemon) teardown() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Warn("closer failed", "err", err)
		}
	}
}
