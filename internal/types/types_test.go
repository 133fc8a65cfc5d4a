package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{input: "queued", want: StatusQueued},
		{input: "processing", want: StatusProcessing},
		{input: "retrying", want: StatusRetrying},
		{input: "completed", want: StatusCompleted},
		{input: "failed", want: StatusFailed},
		{input: "QUEUED", wantErr: true},
		{input: "done", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusRetrying.Terminal())
}

func TestPatchApply(t *testing.T) {
	t.Run("nil fields leave the job untouched", func(t *testing.T) {
		job := Job{ID: "a", Status: StatusQueued, Error: Ptr("boom"), RetryCount: 2}
		Patch{}.Apply(&job)
		assert.Equal(t, StatusQueued, job.Status)
		require.NotNil(t, job.Error)
		assert.Equal(t, "boom", *job.Error)
		assert.Equal(t, 2, job.RetryCount)
	})

	t.Run("empty error clears it", func(t *testing.T) {
		job := Job{Error: Ptr("boom")}
		Patch{Error: Ptr("")}.Apply(&job)
		assert.Nil(t, job.Error)
	})

	t.Run("result fields are copied", func(t *testing.T) {
		segments := []Segment{{Start: 0, End: 1.5, Text: "hello"}}
		job := Job{}
		Patch{
			Status:             Ptr(StatusCompleted),
			Language:           Ptr("en"),
			LanguageConfidence: Ptr(0.9),
			DurationSeconds:    Ptr(1.5),
			FullText:           Ptr("hello"),
			Segments:           &segments,
			RetryCount:         Ptr(1),
		}.Apply(&job)

		segments[0].Text = "mutated"

		assert.Equal(t, StatusCompleted, job.Status)
		assert.Equal(t, "en", *job.Language)
		assert.Equal(t, 0.9, *job.LanguageConfidence)
		assert.Equal(t, 1.5, *job.DurationSeconds)
		assert.Equal(t, "hello", *job.FullText)
		assert.Equal(t, "hello", job.Segments[0].Text)
		assert.Equal(t, 1, job.RetryCount)
	})
}

func TestJobJSONNulls(t *testing.T) {
	data, err := json.Marshal(Job{ID: "a", Status: StatusQueued})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	for _, key := range []string{"language", "language_confidence", "duration_seconds", "full_text", "segments", "error"} {
		v, ok := fields[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
	assert.Equal(t, "queued", fields["status"])
	assert.EqualValues(t, 0, fields["retry_count"])
}
