package battery

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticReader(t *testing.T) {
	r := NewStaticReader(Status{Percent: 15})
	st, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, st.Percent)
	assert.InDelta(t, 0.15, st.Level(), 1e-9)
}

func TestDefaultReaderFallsBack(t *testing.T) {
	// 0x01 is a reserved address; nothing answers there.
	r := DefaultReader(context.Background(), 0x01)
	st, err := r.Read(context.Background())
	require.NoError(t, err)
	if runtime.GOOS != "linux" {
		assert.Equal(t, Mains, st)
	}
	assert.GreaterOrEqual(t, st.Percent, 0)
	assert.LessOrEqual(t, st.Percent, 100)
}

func TestI2CReaderHonoursCancelledContext(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("i2c reader only runs on linux")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewI2CReader("", 0x57).Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
