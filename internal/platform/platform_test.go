package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupported(t *testing.T) {
	for _, p := range All() {
		assert.True(t, Supported(p), "expected %s to be supported", p)
	}
	assert.False(t, Supported("vimeo"))
	assert.False(t, Supported(""))
}

func TestLegacyIsSupported(t *testing.T) {
	assert.True(t, Supported(Legacy))
}

func TestAllReturnsCopy(t *testing.T) {
	a := All()
	a[0] = "mutated"
	assert.Equal(t, Bilibili, All()[0])
}
