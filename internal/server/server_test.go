package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/assert/helpers"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withServer(t *testing.T, fn func(*helpers.TestEngineEnv, *gin.Engine)) {
	t.Helper()
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		srv := server.NewServer(env.Engine)
		fn(env, srv.SetupRoutes())
	})
}

func doJSON(
	router *gin.Engine, method, path string, body any,
) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	withServer(t, func(_ *helpers.TestEngineEnv, router *gin.Engine) {
		w := doJSON(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var res api.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "healthy", res.Status)
	})
}

func TestCreateAndGetWorkflow(t *testing.T) {
	withServer(t, func(_ *helpers.TestEngineEnv, router *gin.Engine) {
		wf := helpers.NewTestWorkflow("wf-http",
			helpers.NewTaskStep("a", "do a"))

		w := doJSON(router, http.MethodPost, "/engine/workflow", wf)
		assert.Equal(t, http.StatusCreated, w.Code)

		// duplicate create conflicts
		w = doJSON(router, http.MethodPost, "/engine/workflow", wf)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = doJSON(router, http.MethodGet, "/engine/workflow/wf-http", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var got api.Workflow
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "wf-http", got.ID)
	})
}

func TestCreateWorkflowInvalid(t *testing.T) {
	withServer(t, func(_ *helpers.TestEngineEnv, router *gin.Engine) {
		wf := &api.Workflow{ID: "wf-bad"}
		w := doJSON(router, http.MethodPost, "/engine/workflow", wf)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetWorkflowNotFound(t *testing.T) {
	withServer(t, func(_ *helpers.TestEngineEnv, router *gin.Engine) {
		w := doJSON(router, http.MethodGet, "/engine/workflow/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestExecuteWorkflowEndpoint(t *testing.T) {
	withServer(t, func(env *helpers.TestEngineEnv, router *gin.Engine) {
		wf := helpers.NewTestWorkflow("wf-exec",
			helpers.NewTaskStep("a", "do a"))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		waiter := env.SubscribeToExecutionDone()
		w := doJSON(router, http.MethodPost,
			"/engine/workflow/wf-exec/execute",
			api.ExecuteRequest{Variables: api.Vars{"env": "test"}})
		require.Equal(t, http.StatusAccepted, w.Code)

		var res api.ExecuteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.NotEmpty(t, res.ExecutionID)

		waiter.Wait(t)

		w = doJSON(router, http.MethodGet,
			"/engine/execution/"+res.ExecutionID, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var exec api.Execution
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exec))
		assert.Equal(t, api.ExecutionCompleted, exec.Status)
	})
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	withServer(t, func(_ *helpers.TestEngineEnv, router *gin.Engine) {
		w := doJSON(router, http.MethodPost,
			"/engine/workflow/missing/execute", api.ExecuteRequest{})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAddAndRemoveStepEndpoints(t *testing.T) {
	withServer(t, func(env *helpers.TestEngineEnv, router *gin.Engine) {
		wf := helpers.NewTestWorkflow("wf-dyn",
			helpers.NewTaskStep("a", "do a"))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		w := doJSON(router, http.MethodPost, "/engine/workflow/wf-dyn/step",
			api.AddStepRequest{
				Step:  helpers.NewTaskStep("b", "do b"),
				After: "a",
			})
		assert.Equal(t, http.StatusCreated, w.Code)

		// unknown anchor step
		w = doJSON(router, http.MethodPost, "/engine/workflow/wf-dyn/step",
			api.AddStepRequest{
				Step:  helpers.NewTaskStep("c", "do c"),
				After: "zzz",
			})
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(router, http.MethodDelete,
			"/engine/workflow/wf-dyn/step/b", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(router, http.MethodDelete,
			"/engine/workflow/wf-dyn/step/b", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTriggerEndpoint(t *testing.T) {
	withServer(t, func(env *helpers.TestEngineEnv, router *gin.Engine) {
		wf := helpers.NewTestWorkflow("wf-trig",
			helpers.NewTaskStep("a", "do a"))
		wf.Triggers = []api.Trigger{{Topic: "orders"}}
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		waiter := env.SubscribeToExecutionDone()
		w := doJSON(router, http.MethodPost, "/engine/trigger/orders",
			api.Vars{"order_id": "o-1"})
		require.Equal(t, http.StatusOK, w.Code)

		var res api.TriggerResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.ExecutionIDs, 1)

		waiter.Wait(t)

		exec, err := env.Engine.GetExecution(
			context.Background(), res.ExecutionIDs[0])
		require.NoError(t, err)
		assert.Equal(t, "trigger:orders", exec.TriggeredBy)
		assert.Equal(t, "o-1", exec.Variables["order_id"])
	})
}

func TestPauseConflictOnCompleted(t *testing.T) {
	withServer(t, func(env *helpers.TestEngineEnv, router *gin.Engine) {
		wf := helpers.NewTestWorkflow("wf-pause",
			helpers.NewTaskStep("a", "do a"))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		exec := env.RunToCompletion(t, "wf-pause", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)

		w := doJSON(router, http.MethodPost,
			"/engine/execution/"+exec.ID+"/pause", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
