package dispatch

import (
	"testing"
	"time"

	"github.com/moby/sys/capability"
	"github.com/stretchr/testify/require"
)

func TestResolveCaps(t *testing.T) {
	caps, err := resolveCaps([]string{"CAP_CHOWN", "CAP_KILL"})
	require.NoError(t, err)
	require.Equal(t, []capability.Cap{capability.CAP_CHOWN, capability.CAP_KILL}, caps)
}

func TestResolveCaps_UnknownName(t *testing.T) {
	_, err := resolveCaps([]string{"CAP_BOGUS"})
	require.Error(t, err)
}

func TestResolveCaps_Empty(t *testing.T) {
	caps, err := resolveCaps(nil)
	require.NoError(t, err)
	require.Empty(t, caps)
}

func TestWaitInhibit_BlocksUntilCleared(t *testing.T) {
	w := newWaitInhibit()
	w.Set(true)

	done := make(chan struct{})
	go func() {
		w.awaitClear()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("awaitClear returned before the flag was cleared")
	case <-time.After(20 * time.Millisecond):
	}

	w.Set(false)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("awaitClear did not return after the flag was cleared")
	}
}

func TestWaitInhibit_NoOpWhenNeverSet(t *testing.T) {
	w := newWaitInhibit()
	done := make(chan struct{})
	go func() {
		w.awaitClear()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("awaitClear blocked with no inhibit set")
	}
}
