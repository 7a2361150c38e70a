package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ IWorkerAgent = &Agent{}

// slot is one converter run. The task inside is the worker's private copy.
type slot struct {
	task    *domain.Task
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	lastPct int
}

// Agent implements IWorkerAgent. It has one exclusive video slot and
// Threads audio slots; audio only runs while the video slot is empty.
//
// Lock order: sendMu before mu. Nothing sends while holding mu.
type Agent struct {
	cfg          *config.WorkerConfig
	master       secondary.MasterNotifier
	converter    secondary.Converter
	codecs       []domain.Codec
	threads      int
	saveIdentity func(string) error
	logger       primary.Logger

	mu         sync.Mutex
	nodeID     string
	state      domain.NodeState
	connecting bool
	video      *slot
	audio      map[domain.TaskKey]*slot
	baseCtx    context.Context
	seq        uint64

	sendMu       sync.Mutex
	lostCh       chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// Option configures an Agent
type Option func(*Agent)

// WithIdentityStore persists the identity handed out by the master
func WithIdentityStore(save func(string) error) Option {
	return func(a *Agent) {
		a.saveIdentity = save
	}
}

// NewAgent creates a disconnected agent. An empty codec list in cfg means
// every known codec.
func NewAgent(cfg *config.WorkerConfig, master secondary.MasterNotifier, converter secondary.Converter, logger primary.Logger, options ...Option) *Agent {
	codecs := domain.ParseCodecs(strings.Join(cfg.Codecs, ","))
	if len(codecs) == 0 {
		codecs = domain.AllCodecs()
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	a := &Agent{
		cfg:        cfg,
		master:     master,
		converter:  converter,
		codecs:     codecs,
		threads:    threads,
		logger:     logger,
		nodeID:     cfg.Unid,
		state:      domain.NodeNotConnected,
		audio:      make(map[domain.TaskKey]*slot),
		baseCtx:    context.Background(),
		lostCh:     make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeID
}

func (a *Agent) Accept(ctx context.Context, task *domain.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := task.Key()
	switch {
	case a.state == domain.NodeNotConnected && !a.connecting:
		return fmt.Errorf("task %s: %w", key, errs.ErrNotConnected)
	case a.state == domain.NodePaused || a.state == domain.NodeCrashed:
		return fmt.Errorf("task %s: node is %s: %w", key, a.state, errs.ErrNoFreeSlot)
	case a.slotFor(key) != nil:
		return fmt.Errorf("task %s is already running: %w", key, errs.ErrNoFreeSlot)
	case !a.supports(task.Codec):
		return fmt.Errorf("task %s: codec %s: %w", key, task.Codec, errs.ErrUnknownCodec)
	}

	switch task.Kind {
	case domain.TaskKindVideo:
		if a.video != nil || len(a.audio) > 0 {
			return fmt.Errorf("task %s: %w", key, errs.ErrNoFreeSlot)
		}
	case domain.TaskKindAudio:
		if a.video != nil || len(a.audio) >= a.threads {
			return fmt.Errorf("task %s: %w", key, errs.ErrNoFreeSlot)
		}
	default:
		return fmt.Errorf("task %s: kind %q: %w", key, task.Kind, errs.ErrInvalidJob)
	}

	t := task.Clone()
	t.NodeID = a.nodeID
	t.Progress.Reset()
	t.Progress.State = domain.TaskDispatched

	runCtx, cancel := context.WithCancel(a.baseCtx)
	s := &slot{task: t, ctx: runCtx, cancel: cancel, done: make(chan struct{}), lastPct: -1}
	if t.Kind == domain.TaskKindVideo {
		a.video = s
	} else {
		a.audio[key] = s
	}
	// During the handshake the state stays NOT_CONNECTED; connect settles it.
	if a.state != domain.NodeNotConnected {
		a.state = domain.NodeWorking
	}
	a.logger.Info("Task accepted", "task", key.String(), "kind", t.Kind, "codec", t.Codec)

	a.wg.Add(1)
	go a.execute(s)
	return nil
}

func (a *Agent) supports(codec domain.Codec) bool {
	info, ok := domain.LookupCodec(codec)
	if !ok {
		return false
	}
	for _, c := range a.codecs {
		if c == info.ID {
			return true
		}
	}
	return false
}

// slotFor is called with a.mu held.
func (a *Agent) slotFor(key domain.TaskKey) *slot {
	if a.video != nil && a.video.task.Key() == key {
		return a.video
	}
	return a.audio[key]
}

// slots lists running slots, video first then audio by key. Called with a.mu held.
func (a *Agent) slots() []*slot {
	var out []*slot
	if a.video != nil {
		out = append(out, a.video)
	}
	audio := make([]*slot, 0, len(a.audio))
	for _, s := range a.audio {
		audio = append(audio, s)
	}
	sort.Slice(audio, func(i, j int) bool {
		return audio[i].task.Key().String() < audio[j].task.Key().String()
	})
	return append(out, audio...)
}

func (a *Agent) release(s *slot) {
	if a.video == s {
		a.video = nil
		return
	}
	key := s.task.Key()
	if a.audio[key] == s {
		delete(a.audio, key)
	}
}

// settle moves WORKING back to FREE once the last slot is empty.
func (a *Agent) settle() {
	empty := a.video == nil && len(a.audio) == 0
	switch {
	case a.state == domain.NodeWorking && empty:
		a.state = domain.NodeFree
	case a.state == domain.NodeFree && !empty:
		a.state = domain.NodeWorking
	}
}

func (a *Agent) execute(s *slot) {
	defer a.wg.Done()
	defer close(s.done)

	a.mu.Lock()
	s.task.Progress.Start()
	a.mu.Unlock()
	a.sendStatus()

	err := a.runPasses(s)
	a.finish(s, err)
}

func (a *Agent) runPasses(s *slot) error {
	a.mu.Lock()
	passes := s.task.Progress.PassCount()
	spec := s.task.Clone()
	a.mu.Unlock()

	for pass := 1; pass <= passes; pass++ {
		err := a.converter.RunPass(s.ctx, spec, pass, func(units int64, rate float64) {
			a.progress(s, units, rate)
		})
		if err != nil {
			return err
		}
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if pass < passes {
			a.mu.Lock()
			s.task.Progress.CompleteStep()
			a.mu.Unlock()
		}
	}
	return nil
}

// progress forwards a unit count to the master when the percentage moved.
func (a *Agent) progress(s *slot, units int64, rate float64) {
	a.mu.Lock()
	if s.ctx.Err() != nil || !s.task.Progress.Update(units, rate) {
		a.mu.Unlock()
		return
	}
	pct := s.task.Progress.Percent()
	if pct == s.lastPct {
		a.mu.Unlock()
		return
	}
	s.lastPct = pct
	a.mu.Unlock()

	a.notify("task report", func(ctx context.Context) error {
		a.mu.Lock()
		if s.ctx.Err() != nil || a.slotFor(s.task.Key()) != s {
			a.mu.Unlock()
			return nil
		}
		report := a.taskReport(s.task)
		report.Seq = a.nextSeq()
		a.mu.Unlock()
		return a.master.SendTaskReport(ctx, report)
	})
}

func (a *Agent) finish(s *slot, err error) {
	key := s.task.Key()

	// The slot is released under sendMu: no report may show it gone before
	// its outcome reaches the master.
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	a.release(s)
	stopped := s.ctx.Err() != nil
	if err == nil && !stopped {
		s.task.Progress.Complete()
	} else {
		s.task.Progress.Reset()
	}
	a.settle()
	report := a.taskReport(s.task)
	report.Seq = a.nextSeq()
	a.mu.Unlock()
	s.cancel()

	switch {
	case stopped:
		a.logger.Info("Task stopped", "task", key.String())
	case err == nil:
		a.logger.Info("Task completed", "task", key.String())
		report.Progress = 100
		a.deliver("completion", func(ctx context.Context) error {
			if err := a.master.SendTaskReport(ctx, report); err != nil {
				return err
			}
			return a.master.SendStatus(ctx, a.status())
		})
	default:
		if errors.Is(err, errs.ErrMissingEncoder) {
			a.logger.Error("Encoder is missing on this node", "task", key.String(), "codec", s.task.Codec, "error", err)
		} else {
			a.logger.Error("Task failed", "task", key.String(), "error", err)
		}
		crash := domain.CrashReport{NodeID: report.NodeID, Fatal: false, Cause: err.Error(), Task: &key}
		a.deliver("crash report", func(ctx context.Context) error {
			if err := a.master.SendCrash(ctx, crash); err != nil {
				return err
			}
			return a.master.SendStatus(ctx, a.status())
		})
	}
}

// taskReport is called with a.mu held.
func (a *Agent) taskReport(t *domain.Task) domain.TaskReport {
	report := domain.TaskReport{
		NodeID:   a.nodeID,
		JobID:    t.JobID.String(),
		TaskID:   t.TaskID,
		Progress: t.Progress.Percent(),
		Pass:     t.Progress.CurrentPass,
		Rate:     t.Progress.Rate,
	}
	if cur := t.Progress.Current(); cur != nil {
		report.Units = cur.Units
	}
	return report
}

// nextSeq is called with a.mu held.
func (a *Agent) nextSeq() uint64 {
	a.seq++
	return a.seq
}

// Status answers a status request. It waits for any report in flight so the
// snapshot is never older than what the master already has.
func (a *Agent) Status() domain.StatusReport {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return a.status()
}

// status is called with a.sendMu held.
func (a *Agent) status() domain.StatusReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	report := domain.StatusReport{NodeID: a.nodeID, Seq: a.nextSeq(), State: a.state}
	for _, s := range a.slots() {
		report.Tasks = append(report.Tasks, a.taskReport(s.task))
	}
	return report
}

func (a *Agent) Stop(key domain.TaskKey) bool {
	a.mu.Lock()
	s := a.slotFor(key)
	a.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	<-s.done
	return true
}

// stopAll cancels every slot and waits for the converters to exit.
func (a *Agent) stopAll() {
	a.mu.Lock()
	running := a.slots()
	a.mu.Unlock()
	for _, s := range running {
		s.cancel()
	}
	for _, s := range running {
		<-s.done
	}
}

func (a *Agent) RequestShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// notify runs one exchange with the master. Sends are serialized so the
// master sees a node's messages in the order they were produced.
func (a *Agent) notify(what string, send func(ctx context.Context) error) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	a.deliver(what, send)
}

// deliver is called with a.sendMu held.
func (a *Agent) deliver(what string, send func(ctx context.Context) error) {
	a.mu.Lock()
	connected := a.state != domain.NodeNotConnected
	base := a.baseCtx
	a.mu.Unlock()
	if !connected {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), a.cfg.MasterTimeout)
	defer cancel()
	err := send(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNoAssignedTask), errors.Is(err, errs.ErrTaskMismatch):
		a.logger.Warn("Master refused report", "message", what, "error", err)
	default:
		a.logger.Error("Master unreachable", "message", what, "error", err)
		a.signalLost()
	}
}

func (a *Agent) sendStatus() {
	a.notify("status report", func(ctx context.Context) error {
		return a.master.SendStatus(ctx, a.status())
	})
}

func (a *Agent) signalLost() {
	select {
	case a.lostCh <- struct{}{}:
	default:
	}
}

func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.baseCtx = ctx
	a.mu.Unlock()

	if !a.reconnect(ctx) {
		return a.exit(ctx)
	}

	ticker := time.NewTicker(a.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.exit(ctx)
		case <-a.shutdownCh:
			return a.exit(ctx)
		case <-a.lostCh:
			a.masterLost(ctx)
			if !a.reconnect(ctx) {
				return a.exit(ctx)
			}
		case <-ticker.C:
			a.sendStatus()
		}
	}
}

// masterLost stops every task and drops to NOT_CONNECTED. A best-effort
// Disconnect lets a master that is still alive release the identity.
func (a *Agent) masterLost(ctx context.Context) {
	a.logger.Error("Lost contact with master, stopping all tasks", "master", a.cfg.MasterAddr())

	a.sendMu.Lock()
	a.mu.Lock()
	a.state = domain.NodeNotConnected
	id := a.nodeID
	a.mu.Unlock()
	a.sendMu.Unlock()

	a.stopAll()

	if id != "" {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.MasterTimeout)
		if err := a.master.Disconnect(dctx, id); err != nil {
			a.logger.Debug("Disconnect after timeout failed", "error", err)
		}
		cancel()
	}

	select {
	case <-a.lostCh:
	default:
	}
}

func (a *Agent) reconnect(ctx context.Context) bool {
	for {
		err := a.connect(ctx)
		if err == nil {
			return true
		}
		a.logger.Warn("Connect to master failed", "master", a.cfg.MasterAddr(), "error", err)

		select {
		case <-ctx.Done():
			return false
		case <-a.shutdownCh:
			return false
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

// connect runs the handshake. Tasks dispatched while it is in flight are
// accepted; they are dropped again if the handshake fails.
func (a *Agent) connect(ctx context.Context) error {
	a.mu.Lock()
	a.connecting = true
	req := domain.ConnectRequest{Node: domain.NodeDescriptor{
		ID:      a.nodeID,
		Name:    a.cfg.Name,
		Address: a.cfg.Host,
		Port:    a.cfg.ListenPort,
		Codecs:  append([]domain.Codec(nil), a.codecs...),
		Threads: a.threads,
	}}
	a.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, a.cfg.MasterTimeout)
	resp, err := a.master.Connect(cctx, req)
	cancel()
	if err == nil && resp.NodeID == "" {
		err = fmt.Errorf("%s: %w", resp.RejectReason, errs.ErrRejected)
	}

	a.mu.Lock()
	a.connecting = false
	if err != nil {
		a.mu.Unlock()
		a.stopAll()
		return err
	}
	changed := resp.NodeID != a.nodeID
	a.nodeID = resp.NodeID
	a.state = domain.NodeFree
	a.settle()
	a.mu.Unlock()

	a.logger.Info("Connected to master", "nodeID", resp.NodeID, "admin", fmt.Sprintf("%s port %d", resp.AdminScheme, resp.AdminPort))
	if changed && a.saveIdentity != nil {
		if err := a.saveIdentity(resp.NodeID); err != nil {
			a.logger.Error("Failed to persist node identity", "error", err)
		}
	}
	a.sendStatus()
	return nil
}

func (a *Agent) exit(ctx context.Context) error {
	a.stopAll()

	a.sendMu.Lock()
	a.mu.Lock()
	connected := a.state != domain.NodeNotConnected
	id := a.nodeID
	a.state = domain.NodeNotConnected
	a.mu.Unlock()
	if connected && id != "" {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.MasterTimeout)
		if err := a.master.Disconnect(dctx, id); err != nil {
			a.logger.Warn("Disconnect from master failed", "error", err)
		}
		cancel()
	}
	a.sendMu.Unlock()

	a.wg.Wait()
	a.logger.Info("Worker stopped", "nodeID", id)
	return nil
}
