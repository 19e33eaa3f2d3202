package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"bulk.jobs", EventCreated, "bulk.jobs.created"},
		{"bulk.jobs.", EventPhase, "bulk.jobs.phase"},
		{"", EventFailed, "bulk.jobs.failed"},
		{"tenant-a.jobs", EventCancelled, "tenant-a.jobs.cancelled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.prefix, tt.name))
	}
}

func TestFromJob(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	started := at.Add(-time.Minute)
	job := &types.Job{
		ID:        "job_1",
		StartedAt: &started,
		Progress:  types.Progress{Completed: 100, Total: 400, CurrentPhase: types.PhaseUploadingFiles},
	}

	ev := FromJob(EventPhase, job, at)
	assert.Equal(t, types.StatusProcessing, ev.Status)
	assert.Equal(t, types.PhaseUploadingFiles, ev.Phase)
	assert.Equal(t, 100, ev.Completed)
	assert.Empty(t, ev.Error)

	job.Outcome = types.Failed{At: at, Error: "boom"}
	ev = FromJob(EventFailed, job, at)
	assert.Equal(t, types.StatusFailed, ev.Status)
	assert.Equal(t, "boom", ev.Error)
}

func TestEventPayloadFields(t *testing.T) {
	ev := Event{Name: EventCreated, JobID: "job_1", Status: types.StatusQueued, Phase: types.PhaseInitializing, Total: 400}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	for _, key := range []string{"jobId", "status", "phase", "completed", "total", "at"} {
		assert.Contains(t, payload, key)
	}
	assert.NotContains(t, payload, "Name")
	assert.NotContains(t, payload, "error")
}

func TestMultiAndFunc(t *testing.T) {
	var got []string
	rec := NotifierFunc(func(_ context.Context, ev Event) { got = append(got, ev.Name) })

	Multi{rec, Nop{}, rec}.Notify(context.Background(), Event{Name: EventCompleted})
	assert.Equal(t, []string{EventCompleted, EventCompleted}, got)
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}
