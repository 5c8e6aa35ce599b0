package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestGetRun_MissingRunID_Returns400(t *testing.T) {
	r, _ := newTestServer(t)

	w := doRequest(r, http.MethodGet, "/run", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetRun_UnknownRunID_Returns404(t *testing.T) {
	r, _ := newTestServer(t)

	w := doRequest(r, http.MethodGet, "/run?runId=run_does_not_exist", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetRun_ExistingRun_ReturnsRunBody(t *testing.T) {
	r, _ := newTestServer(t)
	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}

	triggerResp := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{"name":"Ada"}}`,
		map[string]string{"Authorization": "Bearer " + token})
	if triggerResp.Code != http.StatusOK {
		t.Fatalf("trigger status = %d, body=%s", triggerResp.Code, triggerResp.Body.String())
	}
	var trig struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(triggerResp.Body.Bytes(), &trig); err != nil {
		t.Fatalf("unmarshal trigger response: %v", err)
	}

	w := doRequest(r, http.MethodGet, "/run?runId="+trig.RunID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var run struct {
		ID      string `json:"id"`
		JobName string `json:"jobName"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.ID != trig.RunID {
		t.Errorf("id = %q, want %q", run.ID, trig.RunID)
	}
	if run.JobName != "ping" {
		t.Errorf("jobName = %q, want ping", run.JobName)
	}
}

func TestGetSteps_MissingRunID_Returns400(t *testing.T) {
	r, _ := newTestServer(t)

	w := doRequest(r, http.MethodGet, "/steps", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetSteps_NoStepsYet_ReturnsEmptyArray(t *testing.T) {
	r, _ := newTestServer(t)
	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}

	triggerResp := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{"name":"Ada"}}`,
		map[string]string{"Authorization": "Bearer " + token})
	var trig struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(triggerResp.Body.Bytes(), &trig); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w := doRequest(r, http.MethodGet, "/steps?runId="+trig.RunID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "[]" && w.Body.String() != "null" {
		t.Errorf("body = %s, want an empty array before the worker picks up the run", w.Body.String())
	}
}

func TestListRuns_FiltersByJobName(t *testing.T) {
	r, _ := newTestServer(t)
	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}

	for i := 0; i < 3; i++ {
		resp := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{"name":"Ada"}}`,
			map[string]string{"Authorization": "Bearer " + token})
		if resp.Code != http.StatusOK {
			t.Fatalf("trigger status = %d", resp.Code)
		}
	}

	w := doRequest(r, http.MethodGet, "/runs?jobName=ping", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Runs       []json.RawMessage `json:"runs"`
		NextCursor string            `json:"nextCursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Runs) != 3 {
		t.Errorf("len(runs) = %d, want 3", len(resp.Runs))
	}
}

func TestListRuns_RespectsLimit(t *testing.T) {
	r, _ := newTestServer(t)
	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}

	for i := 0; i < 5; i++ {
		doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{"name":"Ada"}}`,
			map[string]string{"Authorization": "Bearer " + token})
	}

	w := doRequest(r, http.MethodGet, "/runs?jobName=ping&limit=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Runs       []json.RawMessage `json:"runs"`
		NextCursor string            `json:"nextCursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Runs) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(resp.Runs))
	}
	if resp.NextCursor == "" {
		t.Error("nextCursor is empty, want a cursor since more rows remain")
	}
}
