package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnership_BorrowedLoaderNeverTearsDownOnItsOwnClose(t *testing.T) {
	torn := false
	own := &ownership{teardown: func(ctx context.Context) error {
		torn = true
		return nil
	}}

	loader := fileLoaderBorrowed(nil, own)
	require.NoError(t, loader.Close(context.Background()))
	assert.False(t, torn, "a borrowing loader must never trigger teardown on its own Close")
}

func TestOwnership_PromoteWithNoOutstandingBorrowsIsImmediate(t *testing.T) {
	own := &ownership{}
	assert.True(t, own.promote(), "promote with zero outstanding borrows must report immediate teardown")
}

func TestOwnership_PromoteWithOutstandingBorrowDefersTeardown(t *testing.T) {
	own := &ownership{}
	own.addBorrow()
	assert.False(t, own.promote(), "promote with an outstanding borrow must not report immediate teardown")
}

func TestOwnership_LastBorrowerPerformsDeferredTeardownAfterPromotion(t *testing.T) {
	torn := false
	own := &ownership{teardown: func(ctx context.Context) error {
		torn = true
		return nil
	}}

	loaderA := fileLoaderBorrowed(nil, own)
	loaderB := fileLoaderBorrowed(nil, own)

	immediate := own.promote()
	assert.False(t, immediate)

	require.NoError(t, loaderA.Close(context.Background()))
	assert.False(t, torn, "teardown must wait for every outstanding borrower to release")

	require.NoError(t, loaderB.Close(context.Background()))
	assert.True(t, torn, "the last releasing borrower must perform the deferred teardown")
}

func TestFileLoader_OwnedCloseTearsDownDirectly(t *testing.T) {
	torn := false
	own := &ownership{teardown: func(ctx context.Context) error {
		torn = true
		return nil
	}}

	loader := intoFileLoader(nil, own)
	require.NoError(t, loader.Close(context.Background()))
	assert.True(t, torn)
}

func TestFileLoader_CloseIsIdempotent(t *testing.T) {
	calls := 0
	own := &ownership{teardown: func(ctx context.Context) error {
		calls++
		return nil
	}}

	loader := intoFileLoader(nil, own)
	require.NoError(t, loader.Close(context.Background()))
	require.NoError(t, loader.Close(context.Background()))
	assert.Equal(t, 1, calls, "a second Close must be a no-op")
}
