package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/carrier"
	"github.com/faanross/simulacra_png/internal/decoder"
	"github.com/faanross/simulacra_png/internal/encoder"
	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
)

// StegoFilename is the attachment name of an embed response.
const StegoFilename = "stego_image.png"

var errBusy = errors.New("server busy")

// handleEmbed hides the form's message in the uploaded image
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := s.requestLogger(r)

	upload, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, logger, http.StatusBadRequest, err.Error(), err)
		return
	}
	message := []byte(r.FormValue("message"))
	password := []byte(r.FormValue("password"))
	defer scrypto.ZeroBytes(password)

	if s.cfg.PassphrasePolicy {
		if err := scrypto.CheckPassphrase(password); err != nil {
			s.fail(w, logger, http.StatusBadRequest, err.Error(), err)
			return
		}
	}

	c, kind, err := s.decodeUpload(upload)
	if err != nil {
		s.failDecode(w, logger, err)
		return
	}

	err = s.throttled(r, func() error {
		enc := encoder.NewSecureStegoEncoder(message, password, encoder.WithLogger(logger))
		_, err := enc.Embed(c.Pixels)
		return err
	})
	if err != nil {
		s.failEngine(w, logger, err)
		return
	}

	var out bytes.Buffer
	if err := carrier.Encode(&out, c, carrier.FormatPNG); err != nil {
		s.fail(w, logger, http.StatusInternalServerError, "internal error", err)
		return
	}

	s.stats.embeds.Add(1)
	logger.Info("embed complete",
		zap.String("input_format", kind),
		zap.Int("width", c.Width),
		zap.Int("height", c.Height),
		zap.Int("message_bytes", len(message)),
	)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", StegoFilename))
	w.Header().Set("Content-Length", fmt.Sprint(out.Len()))
	w.Write(out.Bytes())
}

// handleExtract recovers the message from the uploaded image
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := s.requestLogger(r)

	upload, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, logger, http.StatusBadRequest, err.Error(), err)
		return
	}
	password := []byte(r.FormValue("password"))
	defer scrypto.ZeroBytes(password)

	c, _, err := s.decodeUpload(upload)
	if err != nil {
		s.failDecode(w, logger, err)
		return
	}

	var result *decoder.ExtractedMessage
	err = s.throttled(r, func() error {
		var err error
		result, err = decoder.NewSecureStegoDecoder(password, decoder.WithLogger(logger)).Extract(c.Pixels)
		return err
	})
	if err != nil {
		s.failEngine(w, logger, err)
		return
	}

	s.stats.extracts.Add(1)
	logger.Info("extract complete", zap.Int("message_bytes", len(result.Message)))

	resp := map[string]string{}
	if utf8.Valid(result.Message) {
		resp["message"] = string(result.Message)
	} else {
		resp["message_base64"] = base64.StdEncoding.EncodeToString(result.Message)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns server statistics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Stats())
}

// readUpload parses the multipart form and returns the "image" part.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload exceeds %d MB", s.cfg.HTTP.MaxUploadMB)
		}
		return nil, fmt.Errorf("invalid multipart form")
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("missing image file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// decodeUpload decodes an uploaded image under the configured pixel cap.
func (s *Server) decodeUpload(data []byte) (*carrier.Carrier, string, error) {
	return carrier.DecodeBytesLimit(data, s.cfg.HTTP.MaxPixels)
}

func (s *Server) failDecode(w http.ResponseWriter, logger *zap.Logger, err error) {
	var sizeErr *carrier.SizeError
	if errors.As(err, &sizeErr) {
		s.fail(w, logger, http.StatusBadRequest, sizeErr.Error(), err)
		return
	}
	s.fail(w, logger, http.StatusBadRequest, "could not decode image", err)
}

// throttled runs fn holding one unit of the KDF semaphore.
func (s *Server) throttled(r *http.Request, fn func() error) error {
	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		return errBusy
	}
	defer s.sem.Release(1)

	s.stats.inFlight.Add(1)
	defer s.stats.inFlight.Add(-1)
	return fn()
}

// failEngine maps typed engine errors to responses. Integrity failures get
// one fixed message whatever the cause.
func (s *Server) failEngine(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, errBusy):
		s.fail(w, logger, http.StatusServiceUnavailable, "server busy, retry later", err)
	case format.ErrorCode(err) == format.ErrCodeIntegrity:
		s.fail(w, logger, http.StatusBadRequest, (&format.IntegrityError{}).Error(), err)
	case format.ErrorCode(err) != "":
		s.fail(w, logger, http.StatusBadRequest, err.Error(), err)
	default:
		s.fail(w, logger, http.StatusInternalServerError, "internal error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, logger *zap.Logger, status int, msg string, err error) {
	if status >= 500 {
		s.stats.failures.Add(1)
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.stats.rejected.Add(1)
		logger.Warn("request rejected",
			zap.Int("status", status),
			zap.String("code", format.ErrorCode(err)),
			zap.Error(err),
		)
	}
	body := map[string]string{"error": msg}
	if code := format.ErrorCode(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
