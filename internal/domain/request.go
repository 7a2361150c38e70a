package domain

// JobRequest is what an operator submits. Task ids default to their
// 1-based position; Kind defaults to the codec's kind.
type JobRequest struct {
	Name  string        `json:"name"`
	Tasks []TaskRequest `json:"tasks"`
}

type TaskRequest struct {
	TaskID int        `json:"task_id,omitempty"`
	Kind   TaskKind   `json:"kind,omitempty"`
	Codec  Codec      `json:"codec"`
	Input  string     `json:"input"`
	Output string     `json:"output"`
	Video  *VideoSpec `json:"video,omitempty"`
	Audio  *AudioSpec `json:"audio,omitempty"`
}
