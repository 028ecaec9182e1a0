package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpack(t *testing.T) {
	word := Pack(7, 0xDEADBEEF)
	code, value := Unpack(word)
	assert.Equal(t, uint32(7), code)
	assert.Equal(t, uint32(0xDEADBEEF), value)

	code, value = Unpack(OK(42))
	assert.Zero(t, code)
	assert.Equal(t, uint32(42), value)

	code, _ = Unpack(Fail(3))
	assert.Equal(t, uint32(3), code)
}

func TestCastAndBytes(t *testing.T) {
	vals := []int32{1, -2, 3}
	raw := Bytes(vals)
	assert.Len(t, raw, 12)

	back := Cast[int32](raw)
	assert.Equal(t, vals, back)

	// Writes through the cast are visible in the source.
	back[0] = 9
	assert.Equal(t, int32(9), vals[0])

	assert.Empty(t, Cast[float64]([]byte{1, 2}))
	assert.Empty(t, Bytes([]float32(nil)))
}
