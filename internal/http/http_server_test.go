package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/encodefarm.net/internal/adapter/crypto"
	"gitlab.com/encodefarm.net/internal/adapter/logging"
	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/services/auth"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/core/services/job"
	"gitlab.com/encodefarm.net/internal/core/services/registry"
	"gitlab.com/encodefarm.net/internal/core/services/schedule"
	"gitlab.com/encodefarm.net/internal/domain"
)

type refuseAll struct{}

func (refuseAll) Dispatch(context.Context, string, *domain.Task) (bool, error) { return false, nil }
func (refuseAll) CancelTask(context.Context, string, domain.TaskKey) error     { return nil }
func (refuseAll) RequestStatus(context.Context, string) (domain.StatusReport, error) {
	return domain.StatusReport{}, nil
}
func (refuseAll) DisconnectNode(context.Context, string) error { return nil }

type apiFixture struct {
	server *Server
	coord  *coordinator.MasterCoordinator
	jwt    *crypto.JWTServiceImpl
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNopLogger()
	reg := registry.NewNodeRegistry(logger)
	coord := coordinator.NewMasterCoordinator(reg, schedule.NewSchedulerService(reg, logger), refuseAll{}, nil, nil,
		&config.MasterConfig{AdminPort: 8082, DispatchTimeout: time.Second}, logger)
	t.Cleanup(coord.WaitDispatches)

	jwtSvc := crypto.NewJWTService(&config.JwtConfig{Secret: "api-secret", TokenTTL: time.Hour})
	localAuth, err := auth.NewLocalAuthService(ctx, &config.AdminConfig{Username: "admin", Password: "pw"}, jwtSvc, logger)
	require.NoError(t, err)

	sp := NewServiceProvider(coord, job.NewJobService(coord, logger), localAuth, jwtSvc)
	s := NewServer(0, "encodefarm-test", *sp, logger)
	require.NoError(t, s.Init())

	f := &apiFixture{server: s, coord: coord, jwt: jwtSvc}
	rec := f.do(t, "POST", "/auth/login", "", domain.LoginRequest{Username: "admin", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login domain.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	f.token = login.Token
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "encodefarm-test")
}

func TestLoginRejected(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "POST", "/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIRequiresAdminToken(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/jobs", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/jobs", "garbage", nil).Code)

	viewer, err := f.jwt.GenerateTokenHMAC(context.Background(), jwt.SigningMethodHS256.Name, map[string]interface{}{
		"username": "viewer", "permission": []string{"encodefarm.read"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, f.do(t, "GET", "/api/jobs", viewer, nil).Code)

	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/jobs", f.token, nil).Code)
}

func TestJobLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/api/jobs", f.token, domain.JobRequest{
		Name: "film",
		Tasks: []domain.TaskRequest{
			{Codec: domain.CodecH264, Input: "in.mkv", Output: "v.mkv", Video: &domain.VideoSpec{EndMs: 5000, Frames: 120}},
			{Codec: domain.CodecOpus, Input: "in.mkv", Output: "a.opus", Audio: &domain.AudioSpec{DurationMs: 5000}},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.JobID)

	rec = f.do(t, "GET", "/api/jobs/"+created.JobID, f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Tasks  []struct {
			TaskID int    `json:"task_id"`
			Kind   string `json:"kind"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "film", view.Name)
	assert.Equal(t, string(domain.JobStatusTodo), view.Status)
	require.Len(t, view.Tasks, 2)
	assert.Equal(t, 1, view.Tasks[0].TaskID)
	assert.Equal(t, "audio", view.Tasks[1].Kind)

	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/api/jobs/"+created.JobID+"/tasks/2/cancel", f.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/jobs/"+created.JobID+"/tasks/9/cancel", f.token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/jobs/"+created.JobID+"/tasks/x/cancel", f.token, nil).Code)
}

func TestJobErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/api/jobs", f.token, domain.JobRequest{
		Name:  "bad",
		Tasks: []domain.TaskRequest{{Codec: "MPEG2", Input: "in", Output: "out"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/jobs", f.token, domain.JobRequest{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/jobs/1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed", f.token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/jobs/not-a-uuid", f.token, nil).Code)
}

func TestCodecs(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/api/codecs", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var codecs []domain.CodecInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &codecs))
	assert.Len(t, codecs, len(domain.AllCodecs()))
}

func TestNodes(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.coord.Connect(context.Background(), domain.ConnectRequest{Node: domain.NodeDescriptor{
		Name: "encoder-a", Port: 6001, Threads: 2, Codecs: []domain.Codec{domain.CodecAAC},
	}}, "10.0.0.7")
	require.NotEmpty(t, resp.NodeID)
	f.coord.WaitDispatches()

	rec := f.do(t, "GET", "/api/nodes", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []domain.NodeSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "10.0.0.7", nodes[0].Address)
	assert.Equal(t, domain.NodeFree, nodes[0].State)

	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/api/nodes/"+resp.NodeID+"/disconnect", f.token, nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/api/nodes/"+resp.NodeID, f.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/api/nodes/"+resp.NodeID, f.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/nodes/unknown/disconnect", f.token, nil).Code)
}
