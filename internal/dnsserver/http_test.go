package dnsserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw)))
	return rec
}

func TestHTTPUpload(t *testing.T) {
	srv := NewServer(testDomain, 60, NewMemoryStorage(), nil)
	h := srv.HTTPHandler()
	_, req := chunkedUpload(t, 400)

	rec := postJSON(t, h, "/upload", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	var resp UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.MessageID != req.MessageID || resp.Chunks != len(req.Chunks) {
		t.Errorf("upload response = %+v", resp)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"duplicate", http.MethodPost, "/upload", mustJSON(t, req), http.StatusConflict},
		{"bad json", http.MethodPost, "/upload", "{", http.StatusBadRequest},
		{"invalid upload", http.MethodPost, "/upload", `{"message_id":"abc","chunks":{},"manifest":"1:1:x:1"}`, http.StatusBadRequest},
		{"upload wrong method", http.MethodGet, "/upload", "", http.StatusMethodNotAllowed},
		{"messages without client", http.MethodGet, "/messages", "", http.StatusBadRequest},
		{"consume unknown", http.MethodPost, "/consume", `{"message_id":"ffff","client_id":"a"}`, http.StatusNotFound},
		{"consume wrong method", http.MethodGet, "/consume", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestHTTPMessagesAndConsume(t *testing.T) {
	srv := NewServer(testDomain, 60, NewMemoryStorage(), nil)
	h := srv.HTTPHandler()
	_, req := chunkedUpload(t, 150)
	postJSON(t, h, "/upload", req)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages?client=bob", nil))
	var list struct {
		Messages []string `json:"messages"`
		Count    int      `json:"count"`
	}
	json.NewDecoder(rec.Body).Decode(&list)
	if list.Count != 1 || list.Messages[0] != req.MessageID {
		t.Fatalf("/messages = %+v", list)
	}

	rec = postJSON(t, h, "/consume", map[string]string{"message_id": req.MessageID, "client_id": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("/consume status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Domain != testDomain || status.Storage.Consumed != 1 || status.Storage.TotalChunks != len(req.Chunks) {
		t.Errorf("/status = %+v", status)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}
