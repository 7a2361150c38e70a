package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the scheduling state of a task
type TaskState string

const (
	TaskTodo       TaskState = "TODO"
	TaskDispatched TaskState = "DISPATCHED"
	TaskComputing  TaskState = "COMPUTING"
	TaskCompleted  TaskState = "COMPLETED"
	// TaskCanceled is transient: a canceled task is reset and goes back to TODO.
	TaskCanceled TaskState = "CANCELED"
)

// Active reports whether a task in this state must be held by a node.
func (s TaskState) Active() bool {
	return s == TaskDispatched || s == TaskComputing
}

// TaskKind selects the converter slot a task needs
type TaskKind string

const (
	TaskKindVideo TaskKind = "video"
	TaskKindAudio TaskKind = "audio"
)

// VideoSpec holds the video-only part of a task.
type VideoSpec struct {
	StreamIndex int    `json:"stream_index"`
	StartMs     int64  `json:"start_ms"`
	EndMs       int64  `json:"end_ms"`
	Frames      int64  `json:"frames"`
	Passes      int    `json:"passes"`
	RateControl string `json:"rate_control"`
	Rate        int    `json:"rate"`
	Preset      string `json:"preset,omitempty"`
}

// AudioSpec holds the audio-only part of a task.
type AudioSpec struct {
	StreamIndex int   `json:"stream_index"`
	DurationMs  int64 `json:"duration_ms"`
	Bitrate     int   `json:"bitrate"`
	Channels    int   `json:"channels"`
	SampleRate  int   `json:"sample_rate"`
}

// TaskKey identifies a task across the cluster
type TaskKey struct {
	JobID  uuid.UUID `json:"job_id"`
	TaskID int       `json:"task_id"`
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s/%d", k.JobID, k.TaskID)
}

// Task is the unit of dispatch. Exactly one of Video or Audio is set,
// matching Kind.
type Task struct {
	JobID    uuid.UUID  `json:"job_id"`
	TaskID   int        `json:"task_id"`
	Kind     TaskKind   `json:"kind"`
	Codec    Codec      `json:"codec"`
	Input    string     `json:"input"`
	Output   string     `json:"output"`
	Video    *VideoSpec `json:"video,omitempty"`
	Audio    *AudioSpec `json:"audio,omitempty"`
	NodeID   string     `json:"node_id,omitempty"`
	Progress Progress   `json:"progress"`
}

// NewVideoTask creates a video task waiting in TODO.
func NewVideoTask(taskID int, codec Codec, input, output string, spec VideoSpec) *Task {
	if spec.Passes < 1 {
		spec.Passes = 1
	}
	return &Task{
		TaskID:   taskID,
		Kind:     TaskKindVideo,
		Codec:    codec,
		Input:    input,
		Output:   output,
		Video:    &spec,
		Progress: NewProgress(spec.Passes, spec.Frames),
	}
}

// NewAudioTask creates a single-pass audio task waiting in TODO.
func NewAudioTask(taskID int, codec Codec, input, output string, spec AudioSpec) *Task {
	return &Task{
		TaskID:   taskID,
		Kind:     TaskKindAudio,
		Codec:    codec,
		Input:    input,
		Output:   output,
		Audio:    &spec,
		Progress: NewProgress(1, spec.DurationMs),
	}
}

func (t *Task) Key() TaskKey {
	return TaskKey{JobID: t.JobID, TaskID: t.TaskID}
}

func (t *Task) State() TaskState {
	return t.Progress.State
}

// Validate checks that the variant fields agree with Kind.
func (t *Task) Validate() error {
	info, ok := LookupCodec(t.Codec)
	if !ok {
		return fmt.Errorf("task %d: unknown codec %q", t.TaskID, t.Codec)
	}
	if info.Kind != t.Kind {
		return fmt.Errorf("task %d: codec %s is not a %s codec", t.TaskID, t.Codec, t.Kind)
	}
	switch t.Kind {
	case TaskKindVideo:
		if t.Video == nil || t.Audio != nil {
			return fmt.Errorf("task %d: video task needs exactly a video spec", t.TaskID)
		}
	case TaskKindAudio:
		if t.Audio == nil || t.Video != nil {
			return fmt.Errorf("task %d: audio task needs exactly an audio spec", t.TaskID)
		}
	default:
		return fmt.Errorf("task %d: unknown kind %q", t.TaskID, t.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	if t.Video != nil {
		v := *t.Video
		c.Video = &v
	}
	if t.Audio != nil {
		a := *t.Audio
		c.Audio = &a
	}
	c.Progress = t.Progress.Clone()
	return &c
}

// JobStatus is derived from the states of a job's tasks
type JobStatus string

const (
	JobStatusTodo       JobStatus = "TODO"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

// Job is an ordered collection of tasks
type Job struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Tasks       []*Task    `json:"tasks"`
}

// NewJob creates a job and stamps its id on every task.
func NewJob(name string, tasks []*Task) *Job {
	j := &Job{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
		Tasks:     tasks,
	}
	for _, t := range tasks {
		t.JobID = j.ID
	}
	return j
}

func (j *Job) Task(taskID int) *Task {
	for _, t := range j.Tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

// Done reports whether every task is COMPLETED.
func (j *Job) Done() bool {
	for _, t := range j.Tasks {
		if t.State() != TaskCompleted {
			return false
		}
	}
	return true
}

func (j *Job) Status() JobStatus {
	if j.Done() {
		return JobStatusCompleted
	}
	for _, t := range j.Tasks {
		if t.State() != TaskTodo {
			return JobStatusInProgress
		}
	}
	return JobStatusTodo
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Tasks = make([]*Task, len(j.Tasks))
	for i, t := range j.Tasks {
		c.Tasks[i] = t.Clone()
	}
	return &c
}

type JobTable struct {
	ID          string
	Name        string
	CreatedAt   string
	CompletedAt string
}

func GetJobTable() JobTable {
	return JobTable{
		ID:          "id",
		Name:        "name",
		CreatedAt:   "created_at",
		CompletedAt: "completed_at",
	}
}

func (JobTable) TableName() string {
	return "jobs"
}

type TaskTable struct {
	JobID    string
	TaskID   string
	Position string
	Kind     string
	Codec    string
	State    string
	NodeID   string
	Payload  string
}

func GetTaskTable() TaskTable {
	return TaskTable{
		JobID:    "job_id",
		TaskID:   "task_id",
		Position: "position",
		Kind:     "kind",
		Codec:    "codec",
		State:    "state",
		NodeID:   "node_id",
		Payload:  "payload",
	}
}

func (TaskTable) TableName() string {
	return "tasks"
}
