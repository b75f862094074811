package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/swarmforge/agent-quorum/consensus"
	"github.com/swarmforge/agent-quorum/core"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := consensus.NewEngine(consensus.DefaultOptions(), core.NewBus())
	t.Cleanup(engine.Shutdown)
	return NewServer(engine, nil)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func registerAgents(t *testing.T, router *gin.Engine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		w := doJSON(t, router, http.MethodPost, "/api/agents", map[string]interface{}{
			"id":     id,
			"weight": 1.0,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("agent registration returned %d: %s", w.Code, w.Body.String())
		}
	}
}

func createProposal(t *testing.T, router *gin.Engine, req map[string]interface{}) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/proposals", req)
	if w.Code != http.StatusOK {
		t.Fatalf("proposal creation returned %d: %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["proposalID"].(string)
	if id == "" {
		t.Fatal("proposal creation returned no id")
	}
	return id
}

func TestVotingFlow(t *testing.T) {
	router := newTestServer(t)
	registerAgents(t, router, "a1", "a2", "a3")

	id := createProposal(t, router, map[string]interface{}{
		"type":    "scaling",
		"creator": "a1",
		"content": map[string]string{"action": "scale-out"},
	})

	for _, agent := range []string{"a1", "a2"} {
		w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/proposals/%s/votes", id), map[string]interface{}{
			"agentId": agent,
			"vote":    true,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("vote by %s returned %d: %s", agent, w.Code, w.Body.String())
		}
		if status := decodeBody(t, w)["status"]; status != "recorded" {
			t.Fatalf("expected recorded ack, got %v", status)
		}
	}

	// The third unanimous vote finalizes early.
	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/proposals/%s/votes", id), map[string]interface{}{
		"agentId": "a3",
		"vote":    true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("final vote returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "finalized" {
		t.Fatalf("expected finalized outcome, got %v", body["status"])
	}
	finalized, _ := body["finalized"].(map[string]interface{})
	if finalized == nil || finalized["consensus"] != true {
		t.Errorf("expected consensus=true in finalized payload, got %v", body["finalized"])
	}

	// Readback reflects the terminal state.
	w = doJSON(t, router, http.MethodGet, "/api/proposals/"+id, nil)
	proposal, _ := decodeBody(t, w)["proposal"].(map[string]interface{})
	if proposal["status"] != "finalized" {
		t.Errorf("expected finalized status on readback, got %v", proposal["status"])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	router := newTestServer(t)
	registerAgents(t, router, "a1", "a2")

	id := createProposal(t, router, map[string]interface{}{
		"type":                 "review",
		"creator":              "a1",
		"requiredCapabilities": []string{"code-review"},
	})

	t.Run("unknown proposal is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/proposals/missing/votes", map[string]interface{}{
			"agentId": "a1",
			"vote":    true,
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("ineligible agent is 403", func(t *testing.T) {
		// No registered agent holds code-review.
		w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/proposals/%s/votes", id), map[string]interface{}{
			"agentId": "a1",
			"vote":    true,
		})
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("missing vote field is 400", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/proposals/%s/votes", id), map[string]interface{}{
			"agentId": "a1",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown agent lookup is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/agents/ghost", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("audit endpoints without storage are 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/audit/proposals", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestExplicitVoteFalseIsAccepted(t *testing.T) {
	// vote:false must bind; a required bool field would reject it.
	router := newTestServer(t)
	registerAgents(t, router, "a1")

	id := createProposal(t, router, map[string]interface{}{
		"type":    "task",
		"creator": "a1",
	})
	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/proposals/%s/votes", id), map[string]interface{}{
		"agentId": "a1",
		"vote":    false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("explicit false vote returned %d: %s", w.Code, w.Body.String())
	}
}

func TestListProposalsFiltering(t *testing.T) {
	router := newTestServer(t)
	registerAgents(t, router, "a1")

	createProposal(t, router, map[string]interface{}{"type": "scaling", "creator": "a1"})
	createProposal(t, router, map[string]interface{}{"type": "task", "creator": "a1"})

	w := doJSON(t, router, http.MethodGet, "/api/proposals?type=scaling", nil)
	proposals, _ := decodeBody(t, w)["proposals"].([]interface{})
	if len(proposals) != 1 {
		t.Fatalf("expected 1 scaling proposal, got %d", len(proposals))
	}

	w = doJSON(t, router, http.MethodGet, "/api/proposals?status=active", nil)
	proposals, _ = decodeBody(t, w)["proposals"].([]interface{})
	if len(proposals) != 2 {
		t.Errorf("expected 2 active proposals, got %d", len(proposals))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t)
	registerAgents(t, router, "a1", "a2")
	createProposal(t, router, map[string]interface{}{"type": "task", "creator": "a1"})

	w := doJSON(t, router, http.MethodGet, "/api/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", w.Code)
	}
	metrics, _ := decodeBody(t, w)["metrics"].(map[string]interface{})
	if metrics["proposalsCreated"] != float64(1) {
		t.Errorf("expected 1 created proposal, got %v", metrics["proposalsCreated"])
	}
	if metrics["onlineAgents"] != float64(2) {
		t.Errorf("expected 2 online agents, got %v", metrics["onlineAgents"])
	}
}
