package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextStage_FixedOrder(t *testing.T) {
	got := []JobStage{JobStageValidating}
	cur := JobStageValidating
	for {
		next, ok := NextStage(cur)
		if !ok {
			break
		}
		got = append(got, next)
		cur = next
	}
	require.Equal(t, StageOrder, got)
}

func TestNextStage_LastStage(t *testing.T) {
	_, ok := NextStage(JobStageFinalizing)
	require.False(t, ok)
}

func TestJobStatus_Terminal(t *testing.T) {
	require.True(t, JobStatusReady.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCanceled.Terminal())
	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusProcessing.Terminal())
	require.False(t, JobStatusPaused.Terminal())
}
