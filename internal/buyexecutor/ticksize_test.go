package buyexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignTickSize(t *testing.T) {
	cases := []struct {
		price, want float64
	}{
		{1234, 1234},
		{3003, 3000},
		{7777, 7770},
		{35025, 35000},
		{72150, 72100},
		{250300, 250000},
		{512000, 512000},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, alignTickSize(c.price))
	}
}
