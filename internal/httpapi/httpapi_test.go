package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/internal/executor"
)

// newTestServer builds an httpapi.Server with a real executor (no NATS, no
// DB) so the ad hoc run/test/replay handlers can be exercised end to end.
// Process and secret CRUD routes are exercised separately against a live
// database and are not covered here.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	exec := executor.New("", nil, nil)
	return New(exec, nil, nil, nil, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleRunFlow_SimpleSuccess(t *testing.T) {
	s := newTestServer(t)

	payload := map[string]interface{}{
		"dsl": map[string]interface{}{
			"definition": map[string]interface{}{"id": "p1", "version": "1.0.0", "name": "p1"},
			"trigger":    map[string]interface{}{"id": "trg_01", "type": "manual"},
			"nodes": []map[string]interface{}{
				{"id": "log_1", "type": "log", "config": map[string]interface{}{"level": "info", "message": "hi"}},
			},
		},
		"trigger_data": map[string]interface{}{},
	}

	rec := doJSON(t, s, http.MethodPost, "/v1/flow", payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ExecutionID string                 `json:"execution_id"`
		Nodes       map[string]interface{} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ExecutionID)
	assert.Contains(t, resp.Nodes, "log_1")
}

func TestHandleRunFlow_InvalidDSLRejected(t *testing.T) {
	s := newTestServer(t)

	payload := map[string]interface{}{
		"dsl": map[string]interface{}{
			"trigger": map[string]interface{}{"id": "trg_01", "type": "manual"},
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/flow", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTestNode_RequiresNodeType(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/test", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTestNode_RunsLogActivity(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]interface{}{
		"node_type": "log",
		"config":    map[string]interface{}{"level": "warn", "message": "test message"},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/test", payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Output map[string]interface{} `json:"output"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "WARN", resp.Output["level"])
}

func TestHandleReplay_RequiresStartNodeID(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/replay", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReplay_MarksNodeReplayed(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]interface{}{
		"dsl": map[string]interface{}{
			"definition": map[string]interface{}{"id": "p1", "version": "1.0.0", "name": "p1"},
			"trigger":    map[string]interface{}{"id": "trg_01", "type": "manual"},
			"nodes": []map[string]interface{}{
				{"id": "start", "type": "log", "config": map[string]interface{}{"level": "info"}},
			},
		},
		"start_node_id": "start",
		"node_output":   map[string]interface{}{"score": 75},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/replay", payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Nodes map[string]struct {
			Output map[string]interface{} `json:"output"`
			Status string                 `json:"status"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "replayed", resp.Nodes["start"].Status)
	assert.EqualValues(t, 75, resp.Nodes["start"].Output["score"])
}
