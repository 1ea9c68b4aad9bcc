package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bushu/app/handler"
	"bushu/internal/model"
	"bushu/internal/scheduler"
	"bushu/internal/service"
	"bushu/pkg/config"
	"bushu/pkg/metrics"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/stream"
	"bushu/pkg/submitter"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("UTC+8", 8*3600)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type apiFixture struct {
	engine    *gin.Engine
	repo      *sqldb.Repository
	scheduler *scheduler.Scheduler
	hub       *stream.Hub
}

// newAPIFixture wires the real services on in-memory sqlite against a fake remote site.
// Accounts whose name starts with "bad" are rejected by the remote.
func newAPIFixture(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if strings.HasPrefix(r.PostForm.Get("xmphone"), "bad") {
			fmt.Fprint(w, "账号或密码错误")
			return
		}
		fmt.Fprint(w, "提交成功")
	}))
	t.Cleanup(remote.Close)

	warm := false
	sub := submitter.NewClient(config.SubmitterConfig{
		BaseURL:       remote.URL,
		PostURL:       remote.URL,
		Timeout:       2 * time.Second,
		FieldAccount:  "xmphone",
		FieldPassword: "xmpwd",
		FieldSteps:    "steps",
		UserAgent:     "test-agent",
		WarmUp:        &warm,
	}, nil)

	repo, err := sqldb.NewRepository(sqldb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	hub := stream.NewHub(0)
	t.Cleanup(hub.Close)

	accounts := service.NewAccountService(repo, nil, service.AccountDefaults{Steps: 89888, ScheduleHour: 0, ScheduleMinute: 5})
	executions := service.NewExecutionService(accounts, repo.Record, sub, service.ExecutionOptions{
		Location:  testLoc,
		Publisher: hub,
	})
	accounts.SetExecutionGuard(executions)
	sched := scheduler.New(accounts, executions, testLoc)
	accounts.SetScheduleNotifier(sched)
	t.Cleanup(sched.Stop)

	records := service.NewRecordService(repo.Record, testLoc, 0)
	stats := service.NewStatisticsService(repo, testLoc)

	if opts.Location == nil {
		opts.Location = testLoc
	}
	engine := gin.New()
	NewRouter(
		handler.NewAccountHandler(accounts),
		handler.NewExecutionHandler(executions, 89888),
		handler.NewRecordHandler(records, stats),
		handler.NewSchedulerHandler(sched),
		handler.NewStreamHandler(hub),
		opts,
	).Setup(engine)

	return &apiFixture{engine: engine, repo: repo, scheduler: sched, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (f *apiFixture) createAccount(t *testing.T, name string, enabled bool) int64 {
	t.Helper()
	rec, env := f.do(t, http.MethodPost, "/api/accounts", gin.H{
		"account":         name,
		"password":        "pw-" + name,
		"steps":           1234,
		"schedule_hour":   7,
		"schedule_minute": 30,
		"enabled":         enabled,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var account model.Account
	require.NoError(t, json.Unmarshal(env.Data, &account))
	return account.ID
}

func TestAccountLifecycle(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rec, env := f.do(t, http.MethodPost, "/api/accounts", gin.H{"account": "  13800000000 ", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "账号添加成功", env.Message)
	assert.NotContains(t, string(env.Data), "secret")

	var created model.Account
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "13800000000", created.Account)
	assert.Equal(t, 89888, created.Steps)
	assert.Equal(t, "00:05", created.ScheduleTime)
	assert.True(t, created.Enabled)

	path := fmt.Sprintf("/api/accounts/%d", created.ID)

	// single reads expose the password, lists do not
	rec, env = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched model.Account
	require.NoError(t, json.Unmarshal(env.Data, &fetched))
	assert.Equal(t, "secret", fetched.Password)

	rec, env = f.do(t, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Account
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Password)

	rec, env = f.do(t, http.MethodPut, path, gin.H{"steps": 5000, "schedule_hour": 8})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "账号更新成功", env.Message)
	var updated model.Account
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, 5000, updated.Steps)
	assert.Equal(t, "08:05", updated.ScheduleTime)

	rec, env = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "账号删除成功", env.Message)

	rec, env = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "账号不存在", env.Message)

	rec, _ = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAccountRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.createAccount(t, "taken", true)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", `{"account":`},
		{"empty account", gin.H{"account": "   ", "password": "x"}},
		{"empty password", gin.H{"account": "a", "password": ""}},
		{"non positive steps", gin.H{"account": "a", "password": "x", "steps": 0}},
		{"hour out of range", gin.H{"account": "a", "password": "x", "schedule_hour": 24}},
		{"minute out of range", gin.H{"account": "a", "password": "x", "schedule_minute": 60}},
		{"duplicate name", gin.H{"account": "taken", "password": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.do(t, http.MethodPost, "/api/accounts", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}

	_, env := f.do(t, http.MethodGet, "/api/accounts", nil)
	var list []model.Account
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestMalformedAccountID(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rec, env := f.do(t, http.MethodGet, "/api/accounts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)

	rec, _ = f.do(t, http.MethodPost, "/api/accounts/-1/execute", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleCancelsAndRearmsTimer(t *testing.T) {
	f := newAPIFixture(t, Options{})
	id := f.createAccount(t, "toggler", true)

	_, armed := f.scheduler.Next(id)
	require.True(t, armed)

	path := fmt.Sprintf("/api/accounts/%d/toggle", id)
	rec, env := f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "已禁用", env.Message)
	_, armed = f.scheduler.Next(id)
	assert.False(t, armed)

	rec, env = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "已启用", env.Message)
	next, armed := f.scheduler.Next(id)
	require.True(t, armed)
	assert.True(t, next.After(time.Now()))
	local := next.In(testLoc)
	assert.Equal(t, 7, local.Hour())
	assert.Equal(t, 30, local.Minute())

	rec, env = f.do(t, http.MethodGet, "/api/scheduler/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.ScheduleEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].AccountID)
	assert.Equal(t, "07:30", entries[0].ScheduleTime)

	rec, _ = f.do(t, http.MethodPost, "/api/accounts/999/toggle", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteStatusMapping(t *testing.T) {
	f := newAPIFixture(t, Options{})
	good := f.createAccount(t, "good", true)
	bad := f.createAccount(t, "bad-credentials", true)
	off := f.createAccount(t, "off", false)

	t.Run("success", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", good), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, env.Success)
		var result model.ExecutionResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 1234, result.Steps)
		assert.Equal(t, model.RecordStatusSuccess, result.Status)
		assert.NotZero(t, result.RecordID)
	})

	t.Run("steps override", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", good), gin.H{"steps": 42})
		require.Equal(t, http.StatusOK, rec.Code)
		var result model.ExecutionResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 42, result.Steps)
	})

	t.Run("remote failure is a result", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", bad), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, env.Success)
		var result model.ExecutionResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, model.RecordStatusFailed, result.Status)
		assert.NotZero(t, result.RecordID)
	})

	t.Run("disabled without force", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", off), gin.H{"force": false})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "账号已禁用", env.Message)
	})

	t.Run("disabled with force", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", off), gin.H{"force": true})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, env.Success)
	})

	t.Run("unknown account", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPost, "/api/accounts/999/execute", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid steps", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", good), gin.H{"steps": 0})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	// one record per execution that actually ran: good x2, bad, forced off
	rec, env := f.do(t, http.MethodGet, "/api/records/today", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []model.ExecutionRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	assert.Len(t, records, 4)
	assert.NotContains(t, rec.Body.String(), "raw")

	rec, env = f.do(t, http.MethodGet, "/api/records/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot model.StatisticsSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.Equal(t, int64(3), snapshot.Accounts.Total)
	assert.Equal(t, int64(2), snapshot.Accounts.Enabled)
	assert.Equal(t, int64(3), snapshot.Today.Success)
	assert.Equal(t, int64(1), snapshot.Today.Failed)
}

func TestExecuteAllReportsEveryAccount(t *testing.T) {
	f := newAPIFixture(t, Options{})
	first := f.createAccount(t, "alpha", true)
	second := f.createAccount(t, "bad-beta", true)
	f.createAccount(t, "disabled", false)

	rec, env := f.do(t, http.MethodPost, "/api/accounts/execute-all", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, env.Success)
	assert.Equal(t, "执行完成", env.Message)

	var results []model.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, first, results[0].AccountID)
	assert.True(t, results[0].Success)
	assert.Equal(t, second, results[1].AccountID)
	assert.False(t, results[1].Success)
}

func TestRecordsList(t *testing.T) {
	f := newAPIFixture(t, Options{})
	id := f.createAccount(t, "lister", true)
	for i := 0; i < 3; i++ {
		rec, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := f.do(t, http.MethodGet, "/api/records?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []model.ExecutionRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 2)
	assert.Greater(t, records[0].ID, records[1].ID)

	rec, _ = f.do(t, http.MethodGet, "/api/records?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountRecords(t *testing.T) {
	f := newAPIFixture(t, Options{})
	mine := f.createAccount(t, "mine", true)
	other := f.createAccount(t, "other", true)
	for _, id := range []int64{mine, mine, other} {
		rec, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/execute", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := f.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/records", mine), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []model.ExecutionRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, mine, r.AccountID)
	}
	assert.Greater(t, records[0].ID, records[1].ID)

	rec, _ = f.do(t, http.MethodGet, "/api/accounts/zero/records", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdHocSubmission(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rec, env := f.do(t, http.MethodPost, "/api/test", gin.H{"account": "someone", "password": "pw", "steps": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, env = f.do(t, http.MethodPost, "/api/test", gin.H{"account": "bad-someone", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.Success)

	rec, env = f.do(t, http.MethodPost, "/api/test", gin.H{"account": "someone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "账号和密码不能为空", env.Message)

	// nothing is recorded
	_, env = f.do(t, http.MethodGet, "/api/records", nil)
	assert.Equal(t, "[]", string(env.Data))
}

func TestAPIKeyAuth(t *testing.T) {
	f := newAPIFixture(t, Options{APIKey: "s3cret"})

	rec, env := f.do(t, http.MethodGet, "/api/accounts", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)

	rec, _ = f.do(t, http.MethodGet, "/api/accounts", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/accounts", nil, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/accounts?api_key=s3cret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, Options{CORSOrigins: []string{"http://dashboard.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/accounts", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTraceHeaderEchoed(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rec, _ := f.do(t, http.MethodGet, "/api/accounts", nil, "X-Request-ID", "trace-123")
	assert.Equal(t, "trace-123", rec.Header().Get("X-Request-ID"))

	rec, _ = f.do(t, http.MethodGet, "/api/accounts", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.MustRegister()
	f := newAPIFixture(t, Options{})
	f.do(t, http.MethodGet, "/api/accounts", nil)

	rec, _ := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bushu_http_requests_total")
}

func TestRecordStreamPushesNewRecords(t *testing.T) {
	f := newAPIFixture(t, Options{})
	id := f.createAccount(t, "streamer", true)

	server := httptest.NewServer(f.engine)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/records/stream"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/accounts/%d/execute", server.URL, id), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var record model.ExecutionRecord
	require.NoError(t, ws.ReadJSON(&record))
	assert.Equal(t, id, record.AccountID)
	assert.Equal(t, "streamer", record.AccountName)
	assert.Equal(t, model.RecordStatusSuccess, record.Status)

	ws.Close()
	assert.Eventually(t, func() bool { return f.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
