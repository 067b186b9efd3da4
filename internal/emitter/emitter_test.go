package emitter

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhue-dev/voicedictated/internal/errs"
)

// fakeCmdRecorder substitutes the real wtype binary with /bin/true (or
// /bin/false) via a recording factory, the same seam style as the teacher's
// injectable stream/encoder doubles.
type fakeCmdRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *fakeCmdRecorder) factory(shouldFail bool) cmdFactory {
	return func(ctx context.Context, text string) *exec.Cmd {
		r.mu.Lock()
		r.calls = append(r.calls, text)
		r.mu.Unlock()
		if shouldFail {
			return exec.CommandContext(ctx, "false")
		}
		return exec.CommandContext(ctx, "true")
	}
}

func (r *fakeCmdRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestTypeSendsWholeStringInOneInvocationWithoutPacing(t *testing.T) {
	rec := &fakeCmdRecorder{}
	e := New()
	e.newCmd = rec.factory(false)

	require.NoError(t, e.Type(context.Background(), "hello world"))
	require.Equal(t, []string{"hello world"}, rec.snapshot())
}

func TestTypeEmptyStringIsNoop(t *testing.T) {
	rec := &fakeCmdRecorder{}
	e := New()
	e.newCmd = rec.factory(false)

	require.NoError(t, e.Type(context.Background(), ""))
	require.Empty(t, rec.snapshot())
}

func TestTypeWithWordDelaySplitsOnWords(t *testing.T) {
	rec := &fakeCmdRecorder{}
	e := New(WithWordDelay(time.Millisecond))
	e.newCmd = rec.factory(false)

	require.NoError(t, e.Type(context.Background(), "one two"))
	require.Equal(t, []string{"one", " ", "two"}, rec.snapshot())
}

func TestTypeWithCharDelaySendsOneCharacterAtATime(t *testing.T) {
	rec := &fakeCmdRecorder{}
	e := New(WithCharDelay(time.Millisecond))
	e.newCmd = rec.factory(false)

	require.NoError(t, e.Type(context.Background(), "ab"))
	require.Equal(t, []string{"a", "b"}, rec.snapshot())
}

func TestTypeSurfacesBinaryFailureAsEmitterUnavailable(t *testing.T) {
	rec := &fakeCmdRecorder{}
	e := New()
	e.newCmd = rec.factory(true)

	err := e.Type(context.Background(), "hello")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindEmitterUnavailable))
}
