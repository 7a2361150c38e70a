package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/encodefarm.net/internal/adapter/logging"
	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/services/registry"
	"gitlab.com/encodefarm.net/internal/core/services/schedule"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []domain.TaskKey
	canceled   []domain.TaskKey
	refusals   int
	failSend   error
	status     map[string]domain.StatusReport
	statusErr  error
	disconnect []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ string, task *domain.Task) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return false, f.failSend
	}
	f.dispatched = append(f.dispatched, task.Key())
	if f.refusals > 0 {
		f.refusals--
		return false, nil
	}
	return true, nil
}

func (f *fakeDispatcher) CancelTask(_ context.Context, _ string, key domain.TaskKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, key)
	return nil
}

func (f *fakeDispatcher) RequestStatus(_ context.Context, addr string) (domain.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return domain.StatusReport{}, f.statusErr
	}
	return f.status[addr], nil
}

func (f *fakeDispatcher) DisconnectNode(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect = append(f.disconnect, addr)
	return nil
}

func (f *fakeDispatcher) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

type memNodeRepo struct {
	mu    sync.Mutex
	nodes []domain.NodeSnapshot
}

func (m *memNodeRepo) SaveNodes(_ context.Context, nodes []domain.NodeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append([]domain.NodeSnapshot(nil), nodes...)
	return nil
}

func (m *memNodeRepo) LoadNodes(context.Context) ([]domain.NodeSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.NodeSnapshot(nil), m.nodes...), nil
}

func (m *memNodeRepo) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.nodes {
		if n.ID == id {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			break
		}
	}
	return nil
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	ids  []string
}

func (m *memJobRepo) SaveJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = map[string]*domain.Job{}
	}
	if _, ok := m.jobs[job.ID.String()]; !ok {
		m.ids = append(m.ids, job.ID.String())
	}
	m.jobs[job.ID.String()] = job.Clone()
	return nil
}

func (m *memJobRepo) LoadJobs(context.Context) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, id := range m.ids {
		out = append(out, m.jobs[id].Clone())
	}
	return out, nil
}

type fixture struct {
	coord *MasterCoordinator
	disp  *fakeDispatcher
	nodes *memNodeRepo
	jobs  *memJobRepo
}

func newFixture() *fixture {
	logger := logging.NewNopLogger()
	reg := registry.NewNodeRegistry(logger)
	f := &fixture{
		disp:  &fakeDispatcher{status: map[string]domain.StatusReport{}},
		nodes: &memNodeRepo{},
		jobs:  &memJobRepo{},
	}
	f.coord = NewMasterCoordinator(reg, schedule.NewSchedulerService(reg, logger), f.disp, f.nodes, f.jobs,
		&config.MasterConfig{AdminPort: 8082, DispatchTimeout: time.Second}, logger)
	return f
}

func (f *fixture) connect(t *testing.T, name string, threads int, codecs ...domain.Codec) string {
	t.Helper()
	resp := f.coord.Connect(context.Background(), domain.ConnectRequest{Node: domain.NodeDescriptor{
		Name: name, Port: 6001, Threads: threads, Codecs: codecs,
	}}, "10.0.0.5")
	require.NotEmpty(t, resp.NodeID, resp.RejectReason)
	f.coord.WaitDispatches()
	return resp.NodeID
}

func (f *fixture) task(t *testing.T, key domain.TaskKey) *domain.Task {
	t.Helper()
	for _, j := range f.coord.Jobs() {
		if j.ID == key.JobID {
			if task := j.Task(key.TaskID); task != nil {
				return task
			}
		}
	}
	t.Fatalf("task %s not found", key)
	return nil
}

func (f *fixture) node(t *testing.T, id string) domain.NodeSnapshot {
	t.Helper()
	for _, n := range f.coord.Nodes() {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not found", id)
	return domain.NodeSnapshot{}
}

// assertConsistent checks that every node holds exactly the active tasks
// that point back at it.
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	want := map[string]map[domain.TaskKey]bool{}
	for _, j := range f.coord.Jobs() {
		for _, task := range j.Tasks {
			if task.State().Active() {
				require.NotEmpty(t, task.NodeID, "active task %s has no node", task.Key())
				if want[task.NodeID] == nil {
					want[task.NodeID] = map[domain.TaskKey]bool{}
				}
				want[task.NodeID][task.Key()] = true
			} else {
				assert.Empty(t, task.NodeID, "inactive task %s still names a node", task.Key())
			}
		}
	}
	for _, n := range f.coord.Nodes() {
		got := map[domain.TaskKey]bool{}
		for _, k := range n.Tasks {
			got[k] = true
		}
		if len(got) == 0 && len(want[n.ID]) == 0 {
			continue
		}
		assert.Equal(t, want[n.ID], got, "node %s", n.ID)
	}
}

func videoAudioJob() *domain.Job {
	return domain.NewJob("feature", []*domain.Task{
		domain.NewVideoTask(1, domain.CodecH264, "in.mkv", "v.mkv", domain.VideoSpec{EndMs: 2000, Frames: 48, Passes: 2}),
		domain.NewAudioTask(2, domain.CodecAAC, "in.mkv", "a.m4a", domain.AudioSpec{DurationMs: 2000}),
	})
}

func key(job *domain.Job, id int) domain.TaskKey {
	return domain.TaskKey{JobID: job.ID, TaskID: id}
}

func TestCoordinator_VideoBlocksAudioThenCompletionFreesNode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := videoAudioJob()
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	a := f.connect(t, "A", 1, domain.CodecH264, domain.CodecAAC)

	t1 := f.task(t, key(job, 1))
	t2 := f.task(t, key(job, 2))
	assert.Equal(t, domain.TaskDispatched, t1.State())
	assert.Equal(t, a, t1.NodeID)
	assert.Equal(t, domain.TaskTodo, t2.State())
	assert.Empty(t, t2.NodeID)
	assert.Equal(t, domain.NodeWorking, f.node(t, a).State)
	f.assertConsistent(t)

	err := f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: job.ID.String(), TaskID: 1, Progress: 100, Pass: 2, Units: 48})
	require.NoError(t, err)
	f.coord.WaitDispatches()

	assert.Equal(t, domain.TaskCompleted, f.task(t, key(job, 1)).State())
	t2 = f.task(t, key(job, 2))
	assert.Equal(t, domain.TaskDispatched, t2.State())
	assert.Equal(t, a, t2.NodeID)
	assert.Equal(t, []domain.TaskKey{key(job, 2)}, f.node(t, a).Tasks)
	f.assertConsistent(t)
}

func TestCoordinator_FatalCrashFencesUntilReconnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := domain.NewJob("audio", []*domain.Task{
		domain.NewAudioTask(2, domain.CodecAAC, "in.mkv", "a.m4a", domain.AudioSpec{DurationMs: 2000}),
	})
	a := f.connect(t, "A", 1, domain.CodecAAC)
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: job.ID.String(), TaskID: 2, Progress: 40, Pass: 1, Units: 800}))
	require.Equal(t, domain.TaskComputing, f.task(t, key(job, 2)).State())

	require.NoError(t, f.coord.Crash(ctx, domain.CrashReport{NodeID: a, Fatal: true, Cause: "encoder segfault"}))
	f.coord.WaitDispatches()

	t2 := f.task(t, key(job, 2))
	assert.Equal(t, domain.TaskTodo, t2.State())
	assert.Empty(t, t2.NodeID)
	assert.Zero(t, t2.Progress.Percent())
	assert.Zero(t, t2.Progress.Passes[0].Units)
	n := f.node(t, a)
	assert.True(t, n.Fenced)
	assert.Equal(t, domain.NodeCrashed, n.State)
	assert.Equal(t, 1, f.disp.dispatchCount(), "fenced node gets nothing")
	f.assertConsistent(t)

	require.NoError(t, f.coord.Disconnect(ctx, a))
	resp := f.coord.Connect(ctx, domain.ConnectRequest{Node: domain.NodeDescriptor{
		ID: a, Name: "A", Port: 6001, Threads: 1, Codecs: []domain.Codec{domain.CodecAAC},
	}}, "10.0.0.5")
	require.Equal(t, a, resp.NodeID)
	f.coord.WaitDispatches()

	assert.False(t, f.node(t, a).Fenced)
	assert.Equal(t, domain.TaskDispatched, f.task(t, key(job, 2)).State())
	f.assertConsistent(t)
}

func TestCoordinator_CrashedNodeReconnectsWithoutDisconnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := domain.NewJob("audio", []*domain.Task{
		domain.NewAudioTask(2, domain.CodecAAC, "in.mkv", "a.m4a", domain.AudioSpec{DurationMs: 2000}),
	})
	a := f.connect(t, "A", 1, domain.CodecAAC)
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()
	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, Seq: 40, JobID: job.ID.String(), TaskID: 2, Progress: 40, Pass: 1, Units: 800}))

	require.NoError(t, f.coord.Crash(ctx, domain.CrashReport{NodeID: a, Fatal: true, Cause: "worker restarted"}))
	f.coord.WaitDispatches()
	require.Equal(t, domain.NodeCrashed, f.node(t, a).State)

	resp := f.coord.Connect(ctx, domain.ConnectRequest{Node: domain.NodeDescriptor{
		ID: a, Name: "A", Port: 6001, Threads: 1, Codecs: []domain.Codec{domain.CodecAAC},
	}}, "10.0.0.5")
	require.Equal(t, a, resp.NodeID, resp.RejectReason)
	f.coord.WaitDispatches()

	n := f.node(t, a)
	assert.False(t, n.Fenced)
	assert.Zero(t, n.Failures)
	assert.Equal(t, domain.NodeWorking, n.State)
	assert.Equal(t, 2, f.disp.dispatchCount(), "task goes back to the reconnected node")
	assert.Equal(t, domain.TaskDispatched, f.task(t, key(job, 2)).State())
	f.assertConsistent(t)

	// The restarted worker numbers its reports from one again.
	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, Seq: 1, JobID: job.ID.String(), TaskID: 2, Progress: 5, Pass: 1, Units: 100}))
	t2 := f.task(t, key(job, 2))
	assert.Equal(t, domain.TaskComputing, t2.State())
	assert.Equal(t, int64(100), t2.Progress.Passes[0].Units)
}

func TestTaskReport_EarlierPassIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecH264)
	job := domain.NewJob("video", []*domain.Task{
		domain.NewVideoTask(1, domain.CodecH264, "in.mkv", "v.mkv", domain.VideoSpec{EndMs: 2000, Frames: 100, Passes: 2}),
	})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: job.ID.String(), TaskID: 1, Progress: 55, Pass: 2, Units: 10}))
	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: job.ID.String(), TaskID: 1, Progress: 45, Pass: 1, Units: 90}))

	t1 := f.task(t, key(job, 1))
	assert.Equal(t, 2, t1.Progress.CurrentPass)
	assert.True(t, t1.Progress.Passes[0].Done)
	assert.Equal(t, int64(100), t1.Progress.Passes[0].Units)
	assert.Equal(t, int64(10), t1.Progress.Passes[1].Units, "late first-pass count must not land on the second pass")

	require.NoError(t, f.coord.Status(ctx, domain.StatusReport{NodeID: a, State: domain.NodeWorking, Tasks: []domain.TaskReport{
		{JobID: job.ID.String(), TaskID: 1, Progress: 45, Pass: 1, Units: 95},
	}}))
	t1 = f.task(t, key(job, 1))
	assert.Equal(t, 2, t1.Progress.CurrentPass)
	assert.Equal(t, int64(10), t1.Progress.Passes[1].Units)
	assert.Equal(t, domain.TaskComputing, t1.State())
	f.assertConsistent(t)
}

func TestTaskReport_OlderSequenceIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 1000})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	require.NoError(t, f.coord.Status(ctx, domain.StatusReport{NodeID: a, Seq: 7, State: domain.NodeWorking, Tasks: []domain.TaskReport{
		{JobID: job.ID.String(), TaskID: 1, Progress: 20, Pass: 1, Units: 200},
	}}))
	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, Seq: 6, JobID: job.ID.String(), TaskID: 1, Progress: 100, Pass: 1, Units: 1000}))
	f.coord.WaitDispatches()

	t1 := f.task(t, key(job, 1))
	assert.Equal(t, domain.TaskComputing, t1.State())
	assert.Equal(t, int64(200), t1.Progress.Passes[0].Units)

	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, Seq: 8, JobID: job.ID.String(), TaskID: 1, Progress: 100, Pass: 1, Units: 1000}))
	assert.Equal(t, domain.TaskCompleted, f.task(t, key(job, 1)).State())
	f.assertConsistent(t)
}

func TestCoordinator_MismatchedReportRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := videoAudioJob()
	a := f.connect(t, "A", 1, domain.CodecH264, domain.CodecAAC)
	idle := f.connect(t, "B", 1, domain.CodecFLAC)
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	before := f.task(t, key(job, 1))

	err := f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: job.ID.String(), TaskID: 2, Progress: 50})
	assert.ErrorIs(t, err, errs.ErrTaskMismatch)

	err = f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: "not-a-uuid", TaskID: 1, Progress: 50})
	assert.ErrorIs(t, err, errs.ErrTaskMismatch)

	err = f.coord.TaskReport(ctx, domain.TaskReport{NodeID: idle, JobID: job.ID.String(), TaskID: 1, Progress: 50})
	assert.ErrorIs(t, err, errs.ErrNoAssignedTask)

	err = f.coord.TaskReport(ctx, domain.TaskReport{NodeID: "stranger", JobID: job.ID.String(), TaskID: 1, Progress: 50})
	assert.ErrorIs(t, err, errs.ErrNodeNotFound)

	after := f.task(t, key(job, 1))
	assert.Equal(t, before.State(), after.State())
	assert.Equal(t, before.Progress.Percent(), after.Progress.Percent())
	assert.Equal(t, domain.TaskTodo, f.task(t, key(job, 2)).State())
	f.assertConsistent(t)
}

func TestReevaluate_IdempotentWithoutCapacity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := videoAudioJob()
	require.NoError(t, f.coord.SubmitJob(ctx, job))

	assert.Zero(t, f.coord.Reevaluate(ctx))
	assert.Zero(t, f.coord.Reevaluate(ctx))
	f.coord.WaitDispatches()

	for _, task := range f.coord.Jobs()[0].Tasks {
		assert.Equal(t, domain.TaskTodo, task.State())
	}
	assert.Zero(t, f.disp.dispatchCount())
}

func TestDispatch_RefusalRequeuesAndCountsFailure(t *testing.T) {
	f := newFixture()
	f.disp.refusals = 1
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)

	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	assert.Equal(t, 2, f.disp.dispatchCount(), "refused task is offered again")
	t1 := f.task(t, key(job, 1))
	assert.Equal(t, domain.TaskDispatched, t1.State())
	assert.Equal(t, a, t1.NodeID)
	n := f.node(t, a)
	assert.Equal(t, 1, n.Failures)
	assert.Equal(t, domain.NodeWorking, n.State)
	f.assertConsistent(t)
}

func TestDispatch_RepeatedRefusalsStopAtFailureThreshold(t *testing.T) {
	f := newFixture()
	f.disp.refusals = 1000
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)

	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	assert.Equal(t, domain.FailureThreshold, f.disp.dispatchCount())
	assert.Equal(t, domain.TaskTodo, f.task(t, key(job, 1)).State())
	n := f.node(t, a)
	assert.Equal(t, domain.FailureThreshold, n.Failures)
	assert.Equal(t, domain.NodeFree, n.State)
	assert.Empty(t, n.Tasks)
	f.assertConsistent(t)
}

func TestDispatch_SendFailureDropsNode(t *testing.T) {
	f := newFixture()
	f.disp.failSend = errors.New("connection refused")
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)

	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	assert.Equal(t, domain.NodeNotConnected, f.node(t, a).State)
	assert.Equal(t, domain.TaskTodo, f.task(t, key(job, 1)).State())
	f.assertConsistent(t)
}

func TestNonFatalCrashKeepsNodeEligible(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	k := key(job, 1)
	require.NoError(t, f.coord.Crash(ctx, domain.CrashReport{NodeID: a, Cause: "bad input", Task: &k}))
	f.coord.WaitDispatches()

	n := f.node(t, a)
	assert.False(t, n.Fenced)
	assert.Equal(t, 1, n.Failures)
	assert.Equal(t, 2, f.disp.dispatchCount(), "task goes straight back to the node")
	f.assertConsistent(t)
}

func TestNonFatalCrashesExcludeNodeAtThreshold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	k := key(job, 1)
	for i := 1; i <= domain.FailureThreshold; i++ {
		require.Equal(t, domain.TaskDispatched, f.task(t, k).State(), "crash %d", i)
		require.NoError(t, f.coord.Crash(ctx, domain.CrashReport{NodeID: a, Cause: "bad input", Task: &k}))
		f.coord.WaitDispatches()
	}

	n := f.node(t, a)
	assert.Equal(t, domain.FailureThreshold, n.Failures)
	assert.False(t, n.Fenced)
	assert.Equal(t, domain.NodeFree, n.State)
	assert.Equal(t, domain.TaskTodo, f.task(t, k).State())
	assert.Equal(t, domain.FailureThreshold, f.disp.dispatchCount())
	f.assertConsistent(t)

	require.NoError(t, f.coord.Disconnect(ctx, a))
	resp := f.coord.Connect(ctx, domain.ConnectRequest{Node: domain.NodeDescriptor{
		ID: a, Name: "A", Port: 6001, Threads: 1, Codecs: []domain.Codec{domain.CodecAAC},
	}}, "10.0.0.5")
	require.Equal(t, a, resp.NodeID)
	f.coord.WaitDispatches()
	assert.Zero(t, f.node(t, a).Failures)
	assert.Equal(t, domain.TaskDispatched, f.task(t, k).State(), "reconnect clears the failure count")
}

func TestCancelTask_NotifiesHolder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	require.NoError(t, f.coord.CancelTask(ctx, key(job, 1)))
	f.coord.WaitDispatches()

	assert.Equal(t, []domain.TaskKey{key(job, 1)}, f.disp.canceled)
	assert.Equal(t, 2, f.disp.dispatchCount())
	f.assertConsistent(t)

	err := f.coord.CancelTask(ctx, domain.TaskKey{JobID: job.ID, TaskID: 9})
	assert.ErrorIs(t, err, errs.ErrTaskNotFound)
}

func TestStatus_DropsUnreportedRunningTask(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()
	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, JobID: job.ID.String(), TaskID: 1, Progress: 10, Pass: 1, Units: 1}))

	require.NoError(t, f.coord.Status(ctx, domain.StatusReport{NodeID: a, State: domain.NodeFree}))
	f.coord.WaitDispatches()

	assert.Equal(t, 2, f.disp.dispatchCount(), "lost task is requeued and sent again")
	assert.Equal(t, domain.TaskDispatched, f.task(t, key(job, 1)).State())
	f.assertConsistent(t)
}

func TestCheckNodes_DropsSilentNodes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 10})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	f.disp.mu.Lock()
	f.disp.statusErr = errors.New("i/o timeout")
	f.disp.mu.Unlock()
	f.coord.CheckNodes(ctx)
	f.coord.WaitDispatches()

	assert.Equal(t, domain.NodeNotConnected, f.node(t, a).State)
	assert.Equal(t, domain.TaskTodo, f.task(t, key(job, 1)).State())
	f.assertConsistent(t)
}

func TestCheckNodes_SelfReportedDisconnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	f.disp.status["10.0.0.5:6001"] = domain.StatusReport{State: domain.NodeNotConnected}

	f.coord.CheckNodes(ctx)
	assert.Equal(t, domain.NodeNotConnected, f.node(t, a).State)
}

func TestCheckNodes_StalePollAfterNewerPushIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	job := domain.NewJob("one", []*domain.Task{domain.NewAudioTask(1, domain.CodecAAC, "in", "out", domain.AudioSpec{DurationMs: 1000})})
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()

	require.NoError(t, f.coord.TaskReport(ctx, domain.TaskReport{NodeID: a, Seq: 5, JobID: job.ID.String(), TaskID: 1, Progress: 10, Pass: 1, Units: 100}))

	// Snapshot taken before the task started, answered after the push above.
	f.disp.mu.Lock()
	f.disp.status["10.0.0.5:6001"] = domain.StatusReport{Seq: 4, State: domain.NodeFree}
	f.disp.mu.Unlock()
	f.coord.CheckNodes(ctx)
	f.coord.WaitDispatches()

	t1 := f.task(t, key(job, 1))
	assert.Equal(t, domain.TaskComputing, t1.State(), "running task survives the stale snapshot")
	assert.Equal(t, a, t1.NodeID)
	assert.Equal(t, 1, f.disp.dispatchCount())
	assert.Equal(t, domain.NodeWorking, f.node(t, a).State)

	f.disp.mu.Lock()
	f.disp.status["10.0.0.5:6001"] = domain.StatusReport{Seq: 6, State: domain.NodeWorking, Tasks: []domain.TaskReport{
		{JobID: job.ID.String(), TaskID: 1, Progress: 30, Pass: 1, Units: 300},
	}}
	f.disp.mu.Unlock()
	f.coord.CheckNodes(ctx)
	assert.Equal(t, int64(300), f.task(t, key(job, 1)).Progress.Passes[0].Units)
	f.assertConsistent(t)
}

func TestCheckNodes_CrashedNodes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)
	require.NoError(t, f.coord.Crash(ctx, domain.CrashReport{NodeID: a, Fatal: true, Cause: "out of memory"}))
	f.coord.WaitDispatches()

	f.disp.status["10.0.0.5:6001"] = domain.StatusReport{State: domain.NodeFree}
	f.coord.CheckNodes(ctx)
	n := f.node(t, a)
	assert.Equal(t, domain.NodeCrashed, n.State, "a reachable crashed node stays fenced")
	assert.True(t, n.Fenced)

	f.disp.mu.Lock()
	f.disp.statusErr = errors.New("connection refused")
	f.disp.mu.Unlock()
	f.coord.CheckNodes(ctx)
	f.coord.WaitDispatches()
	assert.Equal(t, domain.NodeNotConnected, f.node(t, a).State)
}

func TestDisconnectNodeAndRemove(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecAAC)

	require.NoError(t, f.coord.DisconnectNode(ctx, a))
	assert.Equal(t, []string{"10.0.0.5:6001"}, f.disp.disconnect)
	assert.Equal(t, domain.NodeNotConnected, f.node(t, a).State)
	assert.ErrorIs(t, f.coord.DisconnectNode(ctx, a), errs.ErrNodeNotFound)

	require.NoError(t, f.coord.RemoveNode(ctx, a))
	assert.Empty(t, f.coord.Nodes())
	assert.ErrorIs(t, f.coord.RemoveNode(ctx, a), errs.ErrNodeNotFound)
}

func TestCheckpointAndRestore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.connect(t, "A", 1, domain.CodecH264, domain.CodecAAC)
	job := videoAudioJob()
	require.NoError(t, f.coord.SubmitJob(ctx, job))
	f.coord.WaitDispatches()
	require.NoError(t, f.coord.Checkpoint(ctx))

	select {
	case <-f.coord.CheckpointRequests():
	default:
		t.Fatal("mutations should request a checkpoint")
	}

	logger := logging.NewNopLogger()
	reg := registry.NewNodeRegistry(logger)
	restarted := NewMasterCoordinator(reg, schedule.NewSchedulerService(reg, logger), f.disp, f.nodes, f.jobs,
		&config.MasterConfig{AdminPort: 8082, DispatchTimeout: time.Second}, logger)
	require.NoError(t, restarted.Restore(ctx))

	nodes := restarted.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, a, nodes[0].ID)
	assert.Equal(t, domain.NodeNotConnected, nodes[0].State)

	jobs := restarted.Jobs()
	require.Len(t, jobs, 1)
	for _, task := range jobs[0].Tasks {
		assert.Equal(t, domain.TaskTodo, task.State())
		assert.Empty(t, task.NodeID)
	}
}

func TestConnect_AnswersWithAdminChannel(t *testing.T) {
	f := newFixture()
	resp := f.coord.Connect(context.Background(), domain.ConnectRequest{Node: domain.NodeDescriptor{Name: "A", Port: 6001}}, "10.0.0.5")
	f.coord.WaitDispatches()
	assert.Equal(t, "http", resp.AdminScheme)
	assert.Equal(t, 8082, resp.AdminPort)

	dup := f.coord.Connect(context.Background(), domain.ConnectRequest{Node: domain.NodeDescriptor{ID: resp.NodeID, Name: "A", Port: 6001}}, "10.0.0.5")
	assert.Empty(t, dup.NodeID)
	assert.NotEmpty(t, dup.RejectReason)
}
