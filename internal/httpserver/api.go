package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pastebin-lite/internal/paste"
)

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type fetchResponse struct {
	Content        string  `json:"content"`
	RemainingViews *int    `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

type errorResponse struct {
	Error   string        `json:"error"`
	Details []paste.Issue `json:"details,omitempty"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

// isoMillis matches JavaScript's Date.prototype.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON in request body"})
		return
	}

	in, err := decodeCreateRequest(body)
	if err != nil {
		var verr *paste.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid input", Details: verr.Issues})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON in request body"})
		return
	}
	if len(in.Content) > s.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("Content exceeds %d byte limit", s.maxBytes)})
		return
	}

	id, _, err := s.engineFor(r).Create(r.Context(), in)
	if err != nil {
		s.writeCreateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: id, URL: s.canonicalURL(r, id)})
}

func (s *Server) writeCreateError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *paste.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid input", Details: verr.Issues})
	case errors.Is(err, paste.ErrIDGenerationFailed):
		s.logger.Error("generate paste id", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to generate paste ID"})
	case errors.Is(err, paste.ErrStorage):
		s.logger.Error("store paste", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to store paste"})
	default:
		s.logger.Error("create paste", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func (s *Server) handleAPIFetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid paste ID"})
		return
	}

	view, err := s.engineFor(r).Read(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, paste.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Paste not found"})
		return
	case errors.Is(err, paste.ErrStorage):
		s.logger.Error("fetch paste", "error", err, "id", id, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch paste"})
		return
	default:
		s.logger.Error("fetch paste", "error", err, "id", id, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	resp := fetchResponse{Content: view.Content, RemainingViews: view.RemainingViews}
	if view.ExpiresAt != nil {
		ts := view.ExpiresAt.UTC().Format(isoMillis)
		resp.ExpiresAt = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth always answers 200; ok reflects whether the store responds.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	err := s.engine.Ping(ctx)
	if err != nil {
		s.logger.Warn("health check failed", "error", err)
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: err == nil})
}

// decodeCreateRequest parses a JSON create body. Syntax errors are returned
// as-is; shape and range problems come back as a *paste.ValidationError
// listing every offending field.
func decodeCreateRequest(body []byte) (paste.CreateInput, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return paste.CreateInput{}, fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return paste.CreateInput{}, errors.New("decode body: trailing data")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return paste.CreateInput{}, &paste.ValidationError{Issues: []paste.Issue{
			{Field: "", Message: "Expected object, received " + jsonKind(raw)},
		}}
	}

	var (
		in     paste.CreateInput
		issues []paste.Issue
	)
	switch v := obj["content"].(type) {
	case nil:
		if _, present := obj["content"]; present {
			issues = append(issues, paste.Issue{Field: "content", Message: "Expected string, received null"})
		} else {
			issues = append(issues, paste.Issue{Field: "content", Message: "Required"})
		}
	case string:
		in.Content = v
	default:
		issues = append(issues, paste.Issue{Field: "content", Message: "Expected string, received " + jsonKind(v)})
	}

	var issue *paste.Issue
	if in.TTLSeconds, issue = optionalPositiveInt(obj, "ttl_seconds"); issue != nil {
		issues = append(issues, *issue)
	}
	if in.MaxViews, issue = optionalPositiveInt(obj, "max_views"); issue != nil {
		issues = append(issues, *issue)
	}

	if len(issues) > 0 {
		return paste.CreateInput{}, &paste.ValidationError{Issues: issues}
	}
	if err := in.Validate(); err != nil {
		return paste.CreateInput{}, err
	}
	return in, nil
}

func optionalPositiveInt(obj map[string]any, field string) (*int, *paste.Issue) {
	v, present := obj[field]
	if !present {
		return nil, nil
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil, &paste.Issue{Field: field, Message: "Expected number, received " + jsonKind(v)}
	}
	f, err := num.Float64()
	if err == nil && f != math.Trunc(f) {
		return nil, &paste.Issue{Field: field, Message: "Expected integer, received float"}
	}
	if err == nil && f < 1 {
		return nil, &paste.Issue{Field: field, Message: "Number must be greater than or equal to 1"}
	}
	// Out-of-range literals fail to parse as float64.
	if err != nil || f > math.MaxInt32 {
		return nil, &paste.Issue{Field: field, Message: fmt.Sprintf("Number must be less than or equal to %d", math.MaxInt32)}
	}
	n := int(f)
	return &n, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case []any:
		return "array"
	default:
		return "object"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
