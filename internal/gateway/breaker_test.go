package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterFailMax(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, "closed", b.State())
	b.RecordFailure()
	assert.Equal(t, "open", b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	assert.Equal(t, "open", b.State())
	assert.False(t, b.Allow())
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, "half_open", b.State())
}

func TestCircuitBreaker_FailureDuringHalfOpenReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	assert.Equal(t, "half_open", b.State())
	b.RecordFailure()
	assert.Equal(t, "open", b.State())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, "closed", b.State())
}
