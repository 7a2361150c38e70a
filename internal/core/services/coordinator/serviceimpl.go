package coordinator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/core/services/registry"
	"gitlab.com/encodefarm.net/internal/core/services/schedule"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ IMasterCoordinator = &MasterCoordinator{}

// MasterCoordinator owns the registry and the scheduler behind one mutex.
// Network sends always happen after the lock is released.
type MasterCoordinator struct {
	mu         sync.Mutex
	registry   registry.INodeRegistry
	scheduler  schedule.ISchedulerService
	dispatcher secondary.TaskDispatcher
	nodeRepo   secondary.NodeRepository
	jobRepo    secondary.JobRepository
	cfg        *config.MasterConfig
	logger     primary.Logger

	checkpointCh chan struct{}
	inflight     sync.WaitGroup
}

// NewMasterCoordinator wires the coordinator. nodeRepo and jobRepo may be nil
// when persistence is disabled.
func NewMasterCoordinator(
	nodes registry.INodeRegistry,
	scheduler schedule.ISchedulerService,
	dispatcher secondary.TaskDispatcher,
	nodeRepo secondary.NodeRepository,
	jobRepo secondary.JobRepository,
	cfg *config.MasterConfig,
	logger primary.Logger,
) *MasterCoordinator {
	return &MasterCoordinator{
		registry:     nodes,
		scheduler:    scheduler,
		dispatcher:   dispatcher,
		nodeRepo:     nodeRepo,
		jobRepo:      jobRepo,
		cfg:          cfg,
		logger:       logger,
		checkpointCh: make(chan struct{}, 1),
	}
}

func (c *MasterCoordinator) Connect(ctx context.Context, req domain.ConnectRequest, observedAddr string) domain.ConnectResponse {
	desc := req.Node
	if observedAddr != "" {
		if desc.Address != "" && desc.Address != observedAddr {
			c.logger.Warn("Worker claims a different address", "claimed", desc.Address, "observed", observedAddr)
		}
		desc.Address = observedAddr
	}

	c.mu.Lock()
	id, err := c.registry.Register(desc)
	c.mu.Unlock()
	if err != nil {
		return domain.ConnectResponse{RejectReason: err.Error()}
	}

	c.requestCheckpoint()
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.Reevaluate(context.WithoutCancel(ctx))
	}()

	return domain.ConnectResponse{
		NodeID:      id,
		AdminScheme: "http",
		AdminPort:   c.cfg.AdminPort,
	}
}

func (c *MasterCoordinator) Status(ctx context.Context, report domain.StatusReport) error {
	c.mu.Lock()
	node, err := c.activeNode(report.NodeID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	node.LastSeen = time.Now()
	if !acceptSeq(node, report.Seq) {
		c.mu.Unlock()
		c.logger.Debug("Ignoring stale status report", "nodeID", report.NodeID, "seq", report.Seq)
		return nil
	}

	changed := false
	if report.State != node.State && validReportedState(report.State) {
		c.logger.Info("Node status changed", "nodeID", node.ID, "from", node.State, "to", report.State)
		node.State = report.State
		changed = true
	}

	reported := make(map[domain.TaskKey]bool, len(report.Tasks))
	for _, tr := range report.Tasks {
		completed, err := c.applyTaskReport(node, tr)
		if err != nil {
			c.logger.Warn("Ignoring task entry in status report", "nodeID", node.ID, "jobID", tr.JobID, "taskID", tr.TaskID, "error", err)
			continue
		}
		if id, err := uuid.Parse(tr.JobID); err == nil {
			reported[domain.TaskKey{JobID: id, TaskID: tr.TaskID}] = true
		}
		changed = changed || completed
	}

	// A task the master saw running that the worker no longer lists is lost.
	for _, t := range append([]*domain.Task(nil), node.Tasks...) {
		if t.State() == domain.TaskComputing && !reported[t.Key()] {
			c.logger.Warn("Worker no longer reports running task", "nodeID", node.ID, "task", t.Key().String())
			c.scheduler.Requeue(t)
			changed = true
		}
	}
	settleNodeState(node)
	c.mu.Unlock()

	if changed {
		c.requestCheckpoint()
		c.Reevaluate(ctx)
	}
	return nil
}

func validReportedState(s domain.NodeState) bool {
	switch s {
	case domain.NodeFree, domain.NodeWorking, domain.NodePaused, domain.NodeCrashed:
		return true
	}
	return false
}

// settleNodeState keeps FREE and WORKING in line with the held tasks.
func settleNodeState(node *domain.Node) {
	switch {
	case node.State == domain.NodeFree && len(node.Tasks) > 0:
		node.State = domain.NodeWorking
	case node.State == domain.NodeWorking && len(node.Tasks) == 0:
		node.State = domain.NodeFree
	}
}

// acceptSeq records seq when it is newer than every report already applied
// for the node. Unsequenced reports are always accepted.
func acceptSeq(node *domain.Node, seq uint64) bool {
	if seq == 0 {
		return true
	}
	if seq <= node.LastSeq {
		return false
	}
	node.LastSeq = seq
	return true
}

func (c *MasterCoordinator) activeNode(nodeID string) (*domain.Node, error) {
	node, err := c.registry.Lookup(nodeID)
	if err != nil {
		return nil, err
	}
	if node.State == domain.NodeNotConnected {
		return nil, fmt.Errorf("node %s is not connected: %w", nodeID, errs.ErrNodeNotFound)
	}
	return node, nil
}

func (c *MasterCoordinator) TaskReport(ctx context.Context, report domain.TaskReport) error {
	c.mu.Lock()
	node, err := c.activeNode(report.NodeID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	node.LastSeen = time.Now()
	if !acceptSeq(node, report.Seq) {
		c.mu.Unlock()
		c.logger.Debug("Ignoring stale task report", "nodeID", report.NodeID, "seq", report.Seq)
		return nil
	}
	completed, err := c.applyTaskReport(node, report)
	if completed {
		settleNodeState(node)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Rejected task report", "nodeID", report.NodeID, "jobID", report.JobID, "taskID", report.TaskID, "error", err)
		return err
	}
	if completed {
		c.requestCheckpoint()
		c.Reevaluate(ctx)
	}
	return nil
}

// applyTaskReport requires the report to name a task the node holds.
// Reports for an earlier pass than the one recorded are dropped.
// Called with c.mu held.
func (c *MasterCoordinator) applyTaskReport(node *domain.Node, report domain.TaskReport) (bool, error) {
	if len(node.Tasks) == 0 {
		return false, fmt.Errorf("node %s: %w", node.ID, errs.ErrNoAssignedTask)
	}
	jobID, err := uuid.Parse(report.JobID)
	if err != nil {
		return false, fmt.Errorf("bad job id %q: %w", report.JobID, errs.ErrTaskMismatch)
	}
	key := domain.TaskKey{JobID: jobID, TaskID: report.TaskID}
	task := node.AssignedTask(key)
	if task == nil {
		return false, fmt.Errorf("node %s reported %s: %w", node.ID, key, errs.ErrTaskMismatch)
	}

	if report.Pass < task.Progress.CurrentPass {
		c.logger.Debug("Ignoring report for an earlier pass", "task", key.String(), "pass", report.Pass, "current", task.Progress.CurrentPass)
		return false, nil
	}
	if task.State() == domain.TaskDispatched {
		task.Progress.Start()
	}
	for report.Pass > task.Progress.CurrentPass && !task.Progress.IsLastPass() {
		task.Progress.CompleteStep()
	}
	task.Progress.Update(report.Units, report.Rate)

	if report.Progress != 100 {
		return false, nil
	}
	task.Progress.Complete()
	node.Unassign(task)
	task.NodeID = ""
	c.logger.Info("Task completed", "task", key.String(), "nodeID", node.ID)
	c.scheduler.Archive()
	return true, nil
}

// Crash requeues the failed task, or every task of the node when none is
// named. A fatal crash fences the node until it connects again. A non-fatal
// one counts toward domain.FailureThreshold, after which the node gets no
// more work.
func (c *MasterCoordinator) Crash(ctx context.Context, report domain.CrashReport) error {
	c.mu.Lock()
	node, err := c.activeNode(report.NodeID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	var victims []*domain.Task
	if report.Task != nil {
		if t := node.AssignedTask(*report.Task); t != nil {
			victims = append(victims, t)
		}
	} else {
		victims = append(victims, node.Tasks...)
	}
	for _, t := range victims {
		t.Progress.State = domain.TaskCanceled
		c.scheduler.Requeue(t)
	}

	if report.Fatal {
		c.logger.Error("Node reported fatal crash", "nodeID", node.ID, "cause", report.Cause, "canceled", len(victims))
		node.Fenced = true
		node.State = domain.NodeCrashed
	} else {
		node.Failures++
		c.logger.Warn("Node reported task failure", "nodeID", node.ID, "cause", report.Cause, "failures", node.Failures, "canceled", len(victims))
		settleNodeState(node)
	}
	c.mu.Unlock()

	c.requestCheckpoint()
	c.Reevaluate(ctx)
	return nil
}

func (c *MasterCoordinator) Disconnect(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	_, err := c.registry.Deregister(nodeID)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.requestCheckpoint()
	c.Reevaluate(ctx)
	return nil
}

func (c *MasterCoordinator) Reevaluate(ctx context.Context) int {
	c.mu.Lock()
	assignments := c.scheduler.DispatchCycle()
	c.mu.Unlock()

	if len(assignments) == 0 {
		return 0
	}
	c.requestCheckpoint()
	bg := context.WithoutCancel(ctx)
	for _, a := range assignments {
		c.inflight.Add(1)
		go c.send(bg, a)
	}
	return len(assignments)
}

func (c *MasterCoordinator) send(ctx context.Context, a schedule.Assignment) {
	defer c.inflight.Done()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	accepted, err := c.dispatcher.Dispatch(callCtx, a.Addr, a.Task)
	cancel()

	if err != nil {
		c.logger.Error("Dispatch failed, dropping node", "nodeID", a.NodeID, "task", a.Task.Key().String(), "error", err)
		c.nodeLost(a.NodeID)
		c.Reevaluate(ctx)
		return
	}
	if accepted {
		return
	}

	c.mu.Lock()
	node, err := c.registry.Lookup(a.NodeID)
	if err != nil {
		c.mu.Unlock()
		return
	}
	node.Failures++
	c.logger.Warn("Worker refused task", "nodeID", a.NodeID, "task", a.Task.Key().String(), "failures", node.Failures)
	if t := node.AssignedTask(a.Task.Key()); t != nil && t.State() == domain.TaskDispatched {
		c.scheduler.Requeue(t)
	}
	settleNodeState(node)
	c.mu.Unlock()

	c.requestCheckpoint()
	c.Reevaluate(ctx)
}

func (c *MasterCoordinator) nodeLost(nodeID string) {
	c.mu.Lock()
	_, err := c.registry.Deregister(nodeID)
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("Lost node is unknown", "nodeID", nodeID, "error", err)
		return
	}
	c.requestCheckpoint()
}

// WaitDispatches blocks until every in-flight dispatch and cancellation
// notice has returned.
func (c *MasterCoordinator) WaitDispatches() {
	c.inflight.Wait()
}

func (c *MasterCoordinator) SubmitJob(ctx context.Context, job *domain.Job) error {
	c.mu.Lock()
	err := c.scheduler.SubmitJob(job)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.requestCheckpoint()
	c.Reevaluate(ctx)
	return nil
}

func (c *MasterCoordinator) CancelTask(ctx context.Context, key domain.TaskKey) error {
	c.mu.Lock()
	_, task, err := c.scheduler.Find(key)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if task.State() == domain.TaskCompleted {
		c.mu.Unlock()
		return fmt.Errorf("task %s already completed: %w", key, errs.ErrInvalidJob)
	}
	var holder *domain.Node
	if task.State().Active() {
		holder, _ = c.registry.Lookup(task.NodeID)
	}
	task.Progress.State = domain.TaskCanceled
	c.scheduler.Requeue(task)
	addr := ""
	if holder != nil {
		addr = nodeAddr(holder)
		settleNodeState(holder)
	}
	c.logger.Info("Task canceled", "task", key.String())
	c.mu.Unlock()

	c.requestCheckpoint()
	bg := context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if addr != "" {
			callCtx, cancel := context.WithTimeout(bg, c.cfg.DispatchTimeout)
			if err := c.dispatcher.CancelTask(callCtx, addr, key); err != nil {
				c.logger.Warn("Failed to notify worker of cancellation", "task", key.String(), "error", err)
			}
			cancel()
		}
		c.Reevaluate(bg)
	}()
	return nil
}

func nodeAddr(node *domain.Node) string {
	return net.JoinHostPort(node.Address, strconv.Itoa(node.Port))
}

func (c *MasterCoordinator) DisconnectNode(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	node, err := c.activeNode(nodeID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	addr := nodeAddr(node)
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	if err := c.dispatcher.DisconnectNode(callCtx, addr); err != nil {
		c.logger.Warn("Worker did not acknowledge disconnect", "nodeID", nodeID, "error", err)
	}
	cancel()

	return c.Disconnect(ctx, nodeID)
}

func (c *MasterCoordinator) RemoveNode(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	node, err := c.registry.Lookup(nodeID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	addr := ""
	if node.State != domain.NodeNotConnected {
		addr = nodeAddr(node)
	}
	if _, err := c.registry.Remove(nodeID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if addr != "" {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
		if err := c.dispatcher.DisconnectNode(callCtx, addr); err != nil {
			c.logger.Warn("Removed node did not acknowledge disconnect", "nodeID", nodeID, "error", err)
		}
		cancel()
	}
	if c.nodeRepo != nil {
		if err := c.nodeRepo.DeleteNode(ctx, nodeID); err != nil {
			c.logger.Error("Failed to delete node snapshot", "nodeID", nodeID, "error", err)
		}
	}
	c.requestCheckpoint()
	c.Reevaluate(ctx)
	return nil
}

// CheckNodes polls every online node. Crashed nodes are only checked for
// liveness; their state is settled by the next connect.
func (c *MasterCoordinator) CheckNodes(ctx context.Context) {
	type target struct {
		id, addr string
		crashed  bool
	}
	c.mu.Lock()
	var targets []target
	for _, node := range c.registry.Nodes() {
		if node.Online() {
			targets = append(targets, target{node.ID, nodeAddr(node), node.State == domain.NodeCrashed})
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	lost := make(chan string, len(targets))
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
			report, err := c.dispatcher.RequestStatus(callCtx, t.addr)
			cancel()
			if err != nil {
				c.logger.Warn("Node did not answer status request", "nodeID", t.id, "error", err)
				lost <- t.id
				return
			}
			if report.State == domain.NodeNotConnected {
				c.logger.Warn("Node considers itself disconnected", "nodeID", t.id)
				lost <- t.id
				return
			}
			if t.crashed {
				return
			}
			report.NodeID = t.id
			if err := c.Status(ctx, report); err != nil {
				c.logger.Warn("Failed to apply polled status", "nodeID", t.id, "error", err)
			}
		}(t)
	}
	wg.Wait()
	close(lost)

	dropped := 0
	for id := range lost {
		c.nodeLost(id)
		dropped++
	}
	if dropped > 0 {
		c.Reevaluate(ctx)
	}
}

func (c *MasterCoordinator) Nodes() []domain.NodeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := c.registry.Nodes()
	out := make([]domain.NodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Snapshot())
	}
	return out
}

func (c *MasterCoordinator) Jobs() []*domain.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	jobs := c.scheduler.Jobs()
	out := make([]*domain.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Clone())
	}
	return out
}

func (c *MasterCoordinator) Restore(ctx context.Context) error {
	var (
		nodes []domain.NodeSnapshot
		jobs  []*domain.Job
		err   error
	)
	if c.nodeRepo != nil {
		if nodes, err = c.nodeRepo.LoadNodes(ctx); err != nil {
			return fmt.Errorf("failed to load nodes: %w", err)
		}
	}
	if c.jobRepo != nil {
		if jobs, err = c.jobRepo.LoadJobs(ctx); err != nil {
			return fmt.Errorf("failed to load jobs: %w", err)
		}
	}

	c.mu.Lock()
	c.registry.Restore(nodes)
	c.scheduler.Restore(jobs)
	c.mu.Unlock()
	return nil
}

func (c *MasterCoordinator) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	nodes := c.registry.Nodes()
	snaps := make([]domain.NodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		snaps = append(snaps, n.Snapshot())
	}
	var jobs []*domain.Job
	for _, j := range c.scheduler.Jobs() {
		jobs = append(jobs, j.Clone())
	}
	c.mu.Unlock()

	if c.nodeRepo != nil {
		if err := c.nodeRepo.SaveNodes(ctx, snaps); err != nil {
			return fmt.Errorf("failed to save nodes: %w", err)
		}
	}
	if c.jobRepo != nil {
		for _, j := range jobs {
			if err := c.jobRepo.SaveJob(ctx, j); err != nil {
				return fmt.Errorf("failed to save job %s: %w", j.ID, err)
			}
		}
	}
	return nil
}

func (c *MasterCoordinator) CheckpointRequests() <-chan struct{} {
	return c.checkpointCh
}

func (c *MasterCoordinator) requestCheckpoint() {
	select {
	case c.checkpointCh <- struct{}{}:
	default:
	}
}
