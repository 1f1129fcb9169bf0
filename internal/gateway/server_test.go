package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsWeekday(t *testing.T) {
	assert.True(t, isWeekday(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)))  // Friday
	assert.False(t, isWeekday(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))  // Saturday
	assert.False(t, isWeekday(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)))  // Sunday
	assert.True(t, isWeekday(time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)))   // Monday
}
