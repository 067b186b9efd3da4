package controlsock

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, handler Handler) (path string, stop func()) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "control.sock")
	srv := New(path, handler)
	require.NoError(t, srv.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()

	return path, func() {
		cancel()
		srv.Close()
		<-done
	}
}

func TestKnownVerbDispatchesToHandler(t *testing.T) {
	path, stop := startTestServer(t, func(_ context.Context, v Verb) (string, error) {
		require.Equal(t, VerbStatus, v)
		return "idle", nil
	})
	defer stop()

	reply, err := SendVerb(path, VerbStatus)
	require.NoError(t, err)
	require.Equal(t, "idle", reply)
}

func TestStatusVerboseParsedAsDistinctVerb(t *testing.T) {
	path, stop := startTestServer(t, func(_ context.Context, v Verb) (string, error) {
		require.Equal(t, VerbStatusVerbose, v)
		return `{"state":"idle"}`, nil
	})
	defer stop()

	reply, err := SendVerb(path, VerbStatusVerbose)
	require.NoError(t, err)
	require.Equal(t, `{"state":"idle"}`, reply)
}

func TestUnknownVerbReturnsErrorUnknown(t *testing.T) {
	path, stop := startTestServer(t, func(_ context.Context, v Verb) (string, error) {
		t.Fatal("handler should not be called for unknown verbs")
		return "", nil
	})
	defer stop()

	reply, err := SendVerb(path, "bogus")
	require.NoError(t, err)
	require.Equal(t, "error: unknown", reply)
}

func TestHandlerErrorIsSurfacedAsErrorLine(t *testing.T) {
	path, stop := startTestServer(t, func(_ context.Context, v Verb) (string, error) {
		return "", assertErr
	})
	defer stop()

	reply, err := SendVerb(path, VerbStart)
	require.NoError(t, err)
	require.Contains(t, reply, "error:")
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestBindFailsWhenSocketOwnedByLiveListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")
	srv1 := New(path, func(context.Context, Verb) (string, error) { return "idle", nil })
	require.NoError(t, srv1.Bind())
	defer srv1.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv1.Serve(ctx)
	time.Sleep(10 * time.Millisecond)

	srv2 := New(path, nil)
	err := srv2.Bind()
	require.Error(t, err)
}

func TestBindRemovesStaleSocketWhenNoLiveListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")
	srv1 := New(path, nil)
	require.NoError(t, srv1.Bind())
	// simulate a crash: socket file left behind, nothing listening
	srv1.ln.(*net.UnixListener).SetUnlinkOnClose(false)
	srv1.ln.Close()
	_, err := os.Stat(path)
	require.NoError(t, err)

	srv2 := New(path, func(context.Context, Verb) (string, error) { return "idle", nil })
	require.NoError(t, srv2.Bind())
	defer srv2.Close()
}
