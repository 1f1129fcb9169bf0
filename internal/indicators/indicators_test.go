package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsShootingStar_LongUpperShadow(t *testing.T) {
	assert.True(t, IsShootingStar(100, 106, 99, 101))
}

func TestIsShootingStar_RejectsShortUpperShadow(t *testing.T) {
	assert.False(t, IsShootingStar(100, 101, 99, 101))
}

func TestIsShootingStar_DojiWithUpperShadowNeverTriggers(t *testing.T) {
	assert.False(t, IsShootingStar(100, 106, 99, 100))
}
