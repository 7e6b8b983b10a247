package sidecar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitReady_TimesOutAgainstUnreachableAddr(t *testing.T) {
	policy := BackoffPolicy{
		Initial: 5 * time.Millisecond,
		Factor:  2,
		Cap:     20 * time.Millisecond,
		Overall: 80 * time.Millisecond,
	}

	start := time.Now()
	conn, err := WaitReady(context.Background(), "127.0.0.1:1", policy)
	elapsed := time.Since(start)

	assert.Nil(t, conn)
	assert.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDefaultBackoff_MatchesSpec(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, DefaultBackoff.Initial)
	assert.Equal(t, float64(2), DefaultBackoff.Factor)
	assert.Equal(t, time.Second, DefaultBackoff.Cap)
	assert.Equal(t, 30*time.Second, DefaultBackoff.Overall)
}
