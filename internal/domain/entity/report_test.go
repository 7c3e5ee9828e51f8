package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(index int, name string) Frame {
	return Frame{Index: index, Name: name}
}

func TestAggregateEmptyOutcomes(t *testing.T) {
	report, err := Aggregate(nil, false)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrNoFramesProcessed)
}

func TestAggregateSumsAndAverages(t *testing.T) {
	outcomes := []FrameOutcome{
		SuccessOutcome(frame(1, "frame_00001.jpg"), 2),
		SuccessOutcome(frame(2, "frame_00002.jpg"), 0),
		SuccessOutcome(frame(3, "frame_00003.jpg"), 3),
	}

	report, err := Aggregate(outcomes, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.FramesProcessed)
	assert.Equal(t, 5, report.TotalGarbageCount)
	assert.InDelta(t, 5.0/3.0, report.AverageGarbageCount, 1e-9)
	assert.Equal(t, 0, report.FailedFrameCount)
	assert.False(t, report.Partial)
	assert.Len(t, report.FrameResults, 3)
}

func TestAggregateCountsFailuresSeparately(t *testing.T) {
	outcomes := []FrameOutcome{
		SuccessOutcome(frame(1, "frame_00001.jpg"), 4),
		FailureOutcome(frame(2, "frame_00002.jpg"), FailureWorkerRejected, "no valid image"),
		SuccessOutcome(frame(3, "frame_00003.jpg"), 1),
	}

	report, err := Aggregate(outcomes, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.FramesProcessed)
	assert.Equal(t, 5, report.TotalGarbageCount)
	assert.Equal(t, 1, report.FailedFrameCount)
	assert.True(t, report.FrameResults[1].Failed())
	assert.Equal(t, FailureWorkerRejected, report.FrameResults[1].ErrorKind)
}

func TestAggregatePartialFlag(t *testing.T) {
	outcomes := []FrameOutcome{SuccessOutcome(frame(1, "frame_00001.jpg"), 1)}

	report, err := Aggregate(outcomes, true)
	require.NoError(t, err)
	assert.True(t, report.Partial)
}
