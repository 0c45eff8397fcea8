package regression_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/sessions", jsonBody(t, map[string]string{}))
	requireStatus(t, resp, http.StatusCreated)
	var opened struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp, &opened)
	if opened.SessionID == "" {
		t.Fatal("empty session id")
	}

	paths := make([]string, 30)
	for i := range paths {
		paths[i] = fmt.Sprintf("/photos/regression-%02d.jpg", i)
	}
	resp = ts.post(t, "/api/sessions/"+opened.SessionID+"/viewport", jsonBody(t, map[string]interface{}{
		"paths":      paths,
		"columns":    6,
		"center_row": 2,
		"center_col": 3,
	}))
	resp.Body.Close()
	requireStatus(t, resp, http.StatusNoContent)

	resp = ts.post(t, "/api/sessions/"+opened.SessionID+"/loaded", jsonBody(t, map[string]interface{}{
		"paths": paths[:5],
	}))
	resp.Body.Close()
	requireStatus(t, resp, http.StatusNoContent)

	resp = ts.del(t, "/api/sessions/"+opened.SessionID)
	resp.Body.Close()
	requireStatus(t, resp, http.StatusNoContent)

	// The closed session is gone.
	resp = ts.post(t, "/api/sessions/"+opened.SessionID+"/fullres", jsonBody(t, map[string]string{
		"path": "/photos/regression-00.jpg",
	}))
	resp.Body.Close()
	requireStatus(t, resp, http.StatusNotFound)
}

func TestViewportRejectsZeroColumns(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/sessions", jsonBody(t, map[string]string{}))
	var opened struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp, &opened)

	resp = ts.post(t, "/api/sessions/"+opened.SessionID+"/viewport", jsonBody(t, map[string]interface{}{
		"paths":   []string{"/a.jpg"},
		"columns": 0,
	}))
	resp.Body.Close()
	requireStatus(t, resp, http.StatusBadRequest)

	resp = ts.del(t, "/api/sessions/"+opened.SessionID)
	resp.Body.Close()
}
