package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesOf(progress []Progress) []int64 {
	var out []int64
	for _, p := range progress {
		out = append(out, p.Bytes)
	}
	return out
}

func TestState_DisplayProgress(t *testing.T) {
	state, err := NewState(testID(), 5)
	require.NoError(t, err)
	state.SetProgressThresholds(100)

	assert.Equal(t, []int64{0}, bytesOf(state.DisplayProgress(0)))
	assert.Equal(t, []int64{12}, bytesOf(state.DisplayProgress(12)))
	assert.Equal(t, []int64{25, 37, 50}, bytesOf(state.DisplayProgress(50)))
	assert.Empty(t, state.DisplayProgress(50))
	assert.Equal(t, []int64{62, 75, 87, 100}, bytesOf(state.DisplayProgress(100)))
	assert.Empty(t, state.DisplayProgress(100))
}

func TestState_DisplayProgress_AtMostOnceInOrder(t *testing.T) {
	state, err := NewState(testID(), 5)
	require.NoError(t, err)
	state.SetProgressThresholds(800)

	var emitted []Progress
	for _, cumulative := range []int64{0, 50, 40, 150, 799, 800, 900} {
		reached := state.DisplayProgress(cumulative)
		for _, p := range reached {
			assert.LessOrEqual(t, p.Bytes, cumulative)
		}
		emitted = append(emitted, reached...)
	}

	require.Len(t, emitted, 9)
	for i, p := range emitted {
		assert.Equal(t, int64(i*100), p.Bytes)
		assert.Equal(t, int64(800), p.Total)
		assert.Equal(t, float64(i)*12.5, p.Percent)
	}
}

func TestState_AddUploadedBytes(t *testing.T) {
	state, err := NewState(testID(), 5)
	require.NoError(t, err)
	state.SetProgressThresholds(80)

	assert.Equal(t, []int64{0, 10}, bytesOf(state.setUploadedBytes(10)))
	assert.Equal(t, []int64{20, 30}, bytesOf(state.addUploadedBytes(25)))
	assert.Equal(t, int64(35), state.UploadedBytes())
}

func TestState_ProgressEmptySource(t *testing.T) {
	state, err := NewState(testID(), 5)
	require.NoError(t, err)
	state.SetProgressThresholds(0)

	assert.Len(t, state.DisplayProgress(0), 9)
}
