package jobrepository

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/encodefarm.net/internal/domain"
)

func payload(t *testing.T, task *domain.Task) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func TestAssemble(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := created.Add(time.Hour)
	first, second := uuid.New(), uuid.New()

	video := domain.NewVideoTask(1, domain.CodecVP9, "in.mkv", "v.webm", domain.VideoSpec{EndMs: 1000, Frames: 24, Passes: 2})
	video.NodeID = "node-1"
	video.Progress.Start()
	audio := domain.NewAudioTask(2, domain.CodecFLAC, "in.mkv", "a.flac", domain.AudioSpec{DurationMs: 1000})

	jobs, err := assemble(
		[]jobRow{
			{ID: first, Name: "film", CreatedAt: created, CompletedAt: sql.NullTime{Time: done, Valid: true}},
			{ID: second, Name: "trailer", CreatedAt: created.Add(time.Minute)},
		},
		[]taskRow{
			{JobID: first, TaskID: 1, Position: 0, Payload: payload(t, video)},
			{JobID: first, TaskID: 2, Position: 1, Payload: payload(t, audio)},
			{JobID: uuid.New(), TaskID: 9, Position: 0, Payload: payload(t, audio)},
		},
	)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "film", jobs[0].Name)
	require.NotNil(t, jobs[0].CompletedAt)
	assert.True(t, done.Equal(*jobs[0].CompletedAt))
	require.Len(t, jobs[0].Tasks, 2)

	got := jobs[0].Tasks[0]
	assert.Equal(t, first, got.JobID)
	assert.Equal(t, "node-1", got.NodeID)
	assert.Equal(t, domain.TaskComputing, got.State())
	assert.Equal(t, 2, got.Progress.PassCount())
	assert.Equal(t, domain.TaskKindAudio, jobs[0].Tasks[1].Kind)

	assert.Nil(t, jobs[1].CompletedAt)
	assert.Empty(t, jobs[1].Tasks, "orphan task rows are skipped")
}

func TestAssembleBadPayload(t *testing.T) {
	id := uuid.New()
	_, err := assemble(
		[]jobRow{{ID: id, Name: "x", CreatedAt: time.Now()}},
		[]taskRow{{JobID: id, TaskID: 1, Payload: []byte("{")}},
	)
	assert.Error(t, err)
}
