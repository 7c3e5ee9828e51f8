package entity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleSpecValidate(t *testing.T) {
	assert.NoError(t, SampleSpec{IntervalSeconds: 0.5}.Validate())
	assert.NoError(t, SampleSpec{IntervalSeconds: 2, MaxFrames: 10}.Validate())

	assert.ErrorIs(t, SampleSpec{IntervalSeconds: 0}.Validate(), ErrInvalidConfiguration)
	assert.ErrorIs(t, SampleSpec{IntervalSeconds: -1}.Validate(), ErrInvalidConfiguration)
	assert.ErrorIs(t, SampleSpec{IntervalSeconds: 1, MaxFrames: -3}.Validate(), ErrInvalidConfiguration)
}

func TestFrameSetReleaseRemovesScratchDir(t *testing.T) {
	scratch, err := os.MkdirTemp(t.TempDir(), "frames_")
	require.NoError(t, err)

	framePath := filepath.Join(scratch, "frame_00001.jpg")
	require.NoError(t, os.WriteFile(framePath, []byte("jpeg"), 0644))

	fs := NewFrameSet([]Frame{{Index: 1, Name: "frame_00001.jpg", Path: framePath}}, 3.0, 1.0, scratch)

	data, err := fs.Frames[0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	fs.Release()
	_, err = os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))

	// Second release is a no-op.
	fs.Release()
}

func TestWorkerErrorRetryable(t *testing.T) {
	assert.True(t, (&WorkerError{Kind: FailureWorkerUnreachable}).Retryable())
	assert.False(t, (&WorkerError{Kind: FailureWorkerRejected}).Retryable())
	assert.False(t, (&WorkerError{Kind: FailureMalformedResponse}).Retryable())
}
