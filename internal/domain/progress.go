package domain

import "time"

// PassProgress tracks one encoding pass.
type PassProgress struct {
	Index      int   `json:"index"`
	Units      int64 `json:"units"`
	TotalUnits int64 `json:"total_units"`
	Done       bool  `json:"done"`
}

// Progress is the per-task pass tracker. It is shared by the master's
// bookkeeping and the worker's execution loop and is not safe for
// concurrent use; owners serialize access.
type Progress struct {
	State       TaskState      `json:"state"`
	Passes      []PassProgress `json:"passes"`
	CurrentPass int            `json:"current_pass"`
	Rate        float64        `json:"rate"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewProgress builds a TODO tracker with passes numbered 1..passes.
func NewProgress(passes int, totalUnits int64) Progress {
	if passes < 1 {
		passes = 1
	}
	p := Progress{
		State:       TaskTodo,
		Passes:      make([]PassProgress, passes),
		CurrentPass: 1,
	}
	for i := range p.Passes {
		p.Passes[i] = PassProgress{Index: i + 1, TotalUnits: totalUnits}
	}
	return p
}

// Current returns the active pass.
func (p *Progress) Current() *PassProgress {
	if len(p.Passes) == 0 {
		return nil
	}
	return &p.Passes[p.CurrentPass-1]
}

func (p *Progress) PassCount() int {
	return len(p.Passes)
}

func (p *Progress) IsLastPass() bool {
	return p.CurrentPass == len(p.Passes)
}

// Start moves the task to COMPUTING and opens the active pass.
func (p *Progress) Start() {
	now := time.Now()
	p.State = TaskComputing
	p.StartedAt = &now
	if cur := p.Current(); cur != nil {
		cur.Units = 0
		cur.Done = false
	}
}

// Update records the unit count of the active pass. Counts lower than the
// stored one are ignored and Update reports false.
func (p *Progress) Update(units int64, rate float64) bool {
	cur := p.Current()
	if cur == nil || units < cur.Units {
		return false
	}
	cur.Units = units
	if rate > 0 {
		p.Rate = rate
	}
	return true
}

// CompleteStep closes the active pass and opens the next one. On the last
// pass the index stays put and the owner decides when to call Complete.
func (p *Progress) CompleteStep() {
	cur := p.Current()
	if cur == nil {
		return
	}
	cur.Done = true
	if cur.TotalUnits > cur.Units {
		cur.Units = cur.TotalUnits
	}
	if p.IsLastPass() {
		return
	}
	p.CurrentPass++
	next := p.Current()
	next.Units = 0
	next.Done = false
}

// Reset returns the tracker to pass 1 with zeroed counters and state TODO.
func (p *Progress) Reset() {
	for i := range p.Passes {
		p.Passes[i].Units = 0
		p.Passes[i].Done = false
	}
	p.CurrentPass = 1
	p.Rate = 0
	p.State = TaskTodo
	p.StartedAt = nil
	p.CompletedAt = nil
}

// Complete marks every pass done and the task COMPLETED.
func (p *Progress) Complete() {
	now := time.Now()
	for i := range p.Passes {
		p.Passes[i].Done = true
		if p.Passes[i].Units < p.Passes[i].TotalUnits {
			p.Passes[i].Units = p.Passes[i].TotalUnits
		}
	}
	p.CurrentPass = len(p.Passes)
	p.State = TaskCompleted
	p.CompletedAt = &now
}

// Percent folds pass index and in-pass fraction into 0..100. 100 is only
// returned once the final pass is done.
func (p *Progress) Percent() int {
	n := len(p.Passes)
	if n == 0 {
		return 0
	}
	done := 0
	for _, pass := range p.Passes {
		if pass.Done {
			done++
		}
	}
	if done == n {
		return 100
	}
	var frac float64
	if cur := p.Current(); cur != nil && !cur.Done && cur.TotalUnits > 0 {
		frac = float64(cur.Units) / float64(cur.TotalUnits)
		if frac > 1 {
			frac = 1
		}
	}
	pct := int((float64(done) + frac) * 100 / float64(n))
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Clone returns a deep copy.
func (p Progress) Clone() Progress {
	c := p
	c.Passes = append([]PassProgress(nil), p.Passes...)
	if p.StartedAt != nil {
		t := *p.StartedAt
		c.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
