package domain

// NodeDescriptor is what a worker declares when it connects.
type NodeDescriptor struct {
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	Port    int     `json:"port"`
	Codecs  []Codec `json:"codecs"`
	Threads int     `json:"threads"`
}

type ConnectRequest struct {
	Node NodeDescriptor `json:"node"`
}

// ConnectResponse carries the assigned identity. An empty NodeID means the
// connection was refused.
type ConnectResponse struct {
	NodeID       string `json:"node_id"`
	AdminScheme  string `json:"admin_scheme"`
	AdminPort    int    `json:"admin_port"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// Seq orders the reports of one worker session. Zero means unordered.
type TaskReport struct {
	NodeID   string  `json:"node_id"`
	Seq      uint64  `json:"seq,omitempty"`
	JobID    string  `json:"job_id"`
	TaskID   int     `json:"task_id"`
	Progress int     `json:"progress"`
	Pass     int     `json:"pass"`
	Units    int64   `json:"units"`
	Rate     float64 `json:"rate,omitempty"`
}

type StatusReport struct {
	NodeID string       `json:"node_id"`
	Seq    uint64       `json:"seq,omitempty"`
	State  NodeState    `json:"state"`
	Tasks  []TaskReport `json:"tasks,omitempty"`
}

type CrashReport struct {
	NodeID string   `json:"node_id"`
	Fatal  bool     `json:"fatal"`
	Cause  string   `json:"cause"`
	Task   *TaskKey `json:"task,omitempty"`
}

type DisconnectRequest struct {
	NodeID string `json:"node_id"`
}
