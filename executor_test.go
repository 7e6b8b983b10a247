package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecutor_DeferredTeardownRunsAfterLastBorrowerReleases is a regression
// test for a bug where ownership.teardown was wired to the sync.Once-guarded
// Stop method: calling Stop while a FileLoader borrow was outstanding spent
// the Once on an early return, so the deferred teardown performed later by
// the last releasing borrower (routed back through Stop) silently no-op'd
// and leaked the container. Teardown must actually run exactly once even
// when it is deferred past the original Stop call (Testable Property 7).
func TestExecutor_DeferredTeardownRunsAfterLastBorrowerReleases(t *testing.T) {
	e := &Executor{state: StateReady}
	e.own = &ownership{teardown: e.deferredTeardown}

	loader := fileLoaderBorrowed(nil, e.own)

	require.NoError(t, e.Stop(context.Background()))
	assert.NotEqual(t, StateStopped, e.State(), "teardown must be deferred, not run immediately, while a borrow is outstanding")

	require.NoError(t, loader.Close(context.Background()))
	assert.Equal(t, StateStopped, e.State(), "the last releasing borrower must actually perform teardown, reaching Stopped")
}

// TestExecutor_ImmediateTeardownWhenNoBorrowsOutstanding covers the common
// case: Stop with no outstanding FileLoader borrows tears down right away.
func TestExecutor_ImmediateTeardownWhenNoBorrowsOutstanding(t *testing.T) {
	e := &Executor{state: StateReady}
	e.own = &ownership{teardown: e.deferredTeardown}

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, StateStopped, e.State())
}

// TestExecutor_StopIsNoopAfterIntoFileLoader is a regression test for a bug
// where IntoFileLoader only called ownership.promote(), which is about
// deferring to outstanding borrowers, not about retiring the Executor's own
// teardown. With no borrows outstanding, promote() reports "immediate", so a
// later Stop() tore the container down itself and the owning loader's Close
// tore it down a second time. IntoFileLoader must permanently hand teardown
// off, making Stop a true no-op for the container from that point on.
func TestExecutor_StopIsNoopAfterIntoFileLoader(t *testing.T) {
	calls := 0
	e := &Executor{state: StateReady}
	e.own = &ownership{teardown: func(ctx context.Context) error {
		calls++
		return nil
	}}

	loader := e.IntoFileLoader()

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 0, calls, "Stop must not tear down once ownership has been handed to a FileLoader")
	assert.Equal(t, StateStopped, e.State())

	require.NoError(t, loader.Close(context.Background()))
	assert.Equal(t, 1, calls, "the owning loader's Close performs the actual teardown")
}
