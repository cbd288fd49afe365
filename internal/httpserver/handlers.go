package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skip2/go-qrcode"

	"pastebin-lite/internal/paste"
)

type indexPageData struct {
	Content    string
	TTLSeconds string
	MaxViews   string
	Error      string
	MaxBytes   int
}

type createdPageData struct {
	ID        string
	URL       string
	MaxViews  *int
	ExpiresAt *time.Time
}

type viewPageData struct {
	Content        string
	RemainingViews *int
	ExpiresAt      *time.Time
	ExpiresIn      string
}

type errorPageData struct {
	Heading string
	Message string
}

type titled interface {
	PageTitle() string
}

func (d indexPageData) PageTitle() string {
	return "New Paste · Pastebin-Lite"
}

func (d createdPageData) PageTitle() string {
	return "Paste Created · Pastebin-Lite"
}

func (d viewPageData) PageTitle() string {
	return "Paste · Pastebin-Lite"
}

func (d errorPageData) PageTitle() string {
	return d.Heading + " · Pastebin-Lite"
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", indexPageData{MaxBytes: s.maxBytes})
}

// handleCreate serves the HTML form. It renders the link instead of
// redirecting to the paste so that creating never consumes a view.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "index", indexPageData{MaxBytes: s.maxBytes, Error: "Unable to parse form"})
		return
	}

	form := indexPageData{
		Content:    r.FormValue("content"),
		TTLSeconds: strings.TrimSpace(r.FormValue("ttl_seconds")),
		MaxViews:   strings.TrimSpace(r.FormValue("max_views")),
		MaxBytes:   s.maxBytes,
	}
	if len(form.Content) > s.maxBytes {
		form.Error = fmt.Sprintf("Content exceeds %d byte limit", s.maxBytes)
		s.render(w, r, http.StatusRequestEntityTooLarge, "index", form)
		return
	}

	in := paste.CreateInput{Content: form.Content}
	var err error
	if in.TTLSeconds, err = formInt(form.TTLSeconds); err != nil {
		form.Error = "Expiry must be a whole number of seconds"
		s.render(w, r, http.StatusBadRequest, "index", form)
		return
	}
	if in.MaxViews, err = formInt(form.MaxViews); err != nil {
		form.Error = "Maximum views must be a whole number"
		s.render(w, r, http.StatusBadRequest, "index", form)
		return
	}

	id, p, err := s.engineFor(r).Create(r.Context(), in)
	if err != nil {
		var verr *paste.ValidationError
		if errors.As(err, &verr) {
			form.Error = verr.Issues[0].Message
			s.render(w, r, http.StatusBadRequest, "index", form)
			return
		}
		s.serverError(w, r, err)
		return
	}

	data := createdPageData{ID: id, URL: s.canonicalURL(r, id), MaxViews: p.MaxViews}
	if t, ok := p.Deadline(); ok {
		data.ExpiresAt = &t
	}
	s.render(w, r, http.StatusCreated, "created", data)
}

func formInt(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	engine := s.engineFor(r)
	view, err := engine.Read(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		s.serverError(w, r, err)
		return
	}

	data := viewPageData{
		Content:        view.Content,
		RemainingViews: view.RemainingViews,
		ExpiresAt:      view.ExpiresAt,
	}
	if view.ExpiresAt != nil {
		data.ExpiresIn = remaining(*view.ExpiresAt, engine.Now())
	}
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "view", data)
}

// handleQR encodes the paste URL. It checks availability without counting a view.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engineFor(r).Peek(r.Context(), id); err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		s.serverError(w, r, err)
		return
	}

	png, err := qrcode.Encode(s.canonicalURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := "Pastebin-Lite"
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, status, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, status, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, status int, name string, err error) {
	s.logger.Error("render template", "error", err, "template", name)
	http.Error(w, "Template error", status)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("internal error", "error", err, "request_id", middleware.GetReqID(r.Context()))
	s.render(w, r, http.StatusInternalServerError, "error", errorPageData{
		Heading: "Something went wrong",
		Message: "Internal server error",
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "error", errorPageData{
		Heading: "404 - Paste Not Found",
		Message: "The paste you're looking for doesn't exist, has expired, or has exceeded its view limit.",
	})
}

func remaining(expires time.Time, now time.Time) string {
	if !now.Before(expires) {
		return "expired"
	}
	dur := expires.Sub(now)
	if dur < time.Second {
		return "in less than a second"
	}
	units := []struct {
		d    time.Duration
		name string
	}{
		{time.Hour * 24, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		if dur >= u.d {
			count := dur / u.d
			parts = append(parts, plural(int(count), u.name))
			dur -= count * u.d
		}
	}
	if len(parts) == 0 {
		return "in " + plural(int(dur/time.Second), "second")
	}
	return "in " + strings.Join(parts, ", ")
}

func plural(count int, singular string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", count, singular)
}
