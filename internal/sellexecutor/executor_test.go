package sellexecutor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kis-trader/internal/domain"
)

func TestIsManual(t *testing.T) {
	assert.True(t, isManual(domain.ReasonManual))
	assert.True(t, isManual(domain.ReasonForcedLiquidation))
	assert.False(t, isManual(domain.ReasonHardStop))
	assert.False(t, isManual(domain.ReasonScaleOut))
}

func TestIsMarketHours(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*3600)
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"open", time.Date(2026, 7, 31, 9, 0, 0, 0, loc), true},
		{"midday", time.Date(2026, 7, 31, 12, 30, 0, 0, loc), true},
		{"close", time.Date(2026, 7, 31, 15, 30, 0, 0, loc), true},
		{"before-open", time.Date(2026, 7, 31, 8, 59, 0, 0, loc), false},
		{"after-close", time.Date(2026, 7, 31, 15, 31, 0, 0, loc), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := &Executor{now: func() time.Time { return c.at }}
			assert.Equal(t, c.want, e.isMarketHours())
		})
	}
}
