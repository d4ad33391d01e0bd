package dnsserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxUploadBody = 8 << 20

// UploadRequest is the body of POST /upload
type UploadRequest struct {
	MessageID string            `json:"message_id"`
	Chunks    map[string]string `json:"chunks"` // label or owner name -> TXT value
	Manifest  string            `json:"manifest"`
}

// UploadResponse acknowledges a stored message
type UploadResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Chunks    int    `json:"chunks"`
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Domain        string       `json:"domain"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Storage       StorageStats `json:"storage"`
}

// HTTPHandler serves the upload API:
//
//	POST /upload     store a chunked message
//	GET  /messages   ?client=<id> list ids new to the client and mark them delivered
//	POST /consume    {"message_id","client_id"} acknowledge
//	GET  /status     storage statistics
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/consume", s.handleConsume)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBody)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid upload body: "+err.Error())
		return
	}

	msg, err := s.queue.PublishMessage(req.MessageID, req.Chunks, req.Manifest)
	switch {
	case errors.Is(err, ErrExists):
		httpError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Warn("upload rejected", zap.String("message_id", req.MessageID), zap.Error(err))
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("message uploaded",
		zap.String("message_id", msg.ID),
		zap.Int("chunks", len(msg.Chunks)),
		zap.String("remote", r.RemoteAddr),
	)
	writeJSON(w, http.StatusCreated, UploadResponse{Status: "success", MessageID: msg.ID, Chunks: len(msg.Chunks)})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		httpError(w, http.StatusBadRequest, "client parameter required")
		return
	}

	messages, err := s.queue.ConsumeMessages(clientID)
	if err != nil {
		s.logger.Error("consume failed", zap.String("client", clientID), zap.Error(err))
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": ids, "count": len(ids)})
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		MessageID string `json:"message_id"`
		ClientID  string `json:"client_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	err := s.queue.AcknowledgeMessage(req.MessageID, req.ClientID)
	switch {
	case errors.Is(err, ErrNotFound):
		httpError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consumed", "message_id": req.MessageID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStats()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Domain:        s.domain,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Storage:       stats,
	})
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
