package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/boxanizer/internal/edit"
	"github.com/erazemk/boxanizer/internal/imaging"
	"github.com/erazemk/boxanizer/internal/metrics"
	"github.com/erazemk/boxanizer/internal/model"
)

// Entity kinds accepted when opening a session.
const (
	kindBox  = "box"
	kindItem = "item"
)

// settleTimeout bounds how long ?wait=1 blocks for validation.
const settleTimeout = 10 * time.Second

// draftPatch carries the editable fields of a draft. Absent fields keep their
// current value.
type draftPatch struct {
	Code        *string `json:"code,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Consumable  *bool   `json:"consumable,omitempty"`
	RemoveImage bool    `json:"remove_image,omitempty"`
}

// editor is the kind-independent view of an edit session used by the handlers.
type editor interface {
	Load(ctx context.Context, id int64) error
	Apply(p draftPatch) error
	SetImage(data []byte, mime string) error
	Save(ctx context.Context) (any, error)
	Wait(ctx context.Context) error
	State() any
	Close()
}

type sessionEditor[T edit.Entity[T]] struct {
	*edit.Session[T]
	patch    func(T, draftPatch) T
	setImage func(T, []byte, string) T
}

func (e *sessionEditor[T]) Apply(p draftPatch) error {
	return e.Update(func(draft T) T { return e.patch(draft, p) })
}

func (e *sessionEditor[T]) SetImage(data []byte, mime string) error {
	return e.Update(func(draft T) T { return e.setImage(draft, data, mime) })
}

func (e *sessionEditor[T]) Save(ctx context.Context) (any, error) {
	return e.Session.Save(ctx, nil)
}

func (e *sessionEditor[T]) State() any {
	return e.Session.State()
}

func patchBox(b model.Box, p draftPatch) model.Box {
	if p.Code != nil {
		b.Code = *p.Code
	}
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.RemoveImage {
		b.Image, b.ImageMime = nil, ""
	}
	return b
}

func setBoxImage(b model.Box, data []byte, mime string) model.Box {
	b.Image, b.ImageMime = data, mime
	return b
}

func patchItem(it model.Item, p draftPatch) model.Item {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Consumable != nil {
		it.Consumable = *p.Consumable
	}
	if p.RemoveImage {
		it.Image, it.ImageMime = nil, ""
	}
	return it
}

func setItemImage(it model.Item, data []byte, mime string) model.Item {
	it.Image, it.ImageMime = data, mime
	return it
}

type openSession struct {
	kind     string
	editor   editor
	notices  *edit.NoticeQueue
	lastUsed time.Time
}

// SessionsHandler keeps the open edit sessions and serves their endpoints.
type SessionsHandler struct {
	Boxes   edit.BoxStore
	Items   edit.Store[model.Item]
	Metrics *metrics.Metrics
	Imaging imaging.Options

	mu   sync.Mutex
	open map[string]*openSession
}

type openSessionRequest struct {
	Kind string `json:"kind"`
	ID   *int64 `json:"id,omitempty"`
}

type sessionResponse struct {
	ID      string        `json:"id"`
	Kind    string        `json:"kind"`
	State   any           `json:"state"`
	Saved   any           `json:"saved,omitempty"`
	Notices []edit.Notice `json:"notices,omitempty"`
}

func (h *SessionsHandler) observer() edit.Observer {
	if h.Metrics == nil {
		return nil
	}
	return h.Metrics
}

func (h *SessionsHandler) newEditor(kind string, notices *edit.NoticeQueue) editor {
	switch kind {
	case kindBox:
		return &sessionEditor[model.Box]{
			Session:  edit.NewBoxSession(h.Boxes, notices, h.observer()),
			patch:    patchBox,
			setImage: setBoxImage,
		}
	case kindItem:
		return &sessionEditor[model.Item]{
			Session:  edit.NewItemSession(h.Items, notices, h.observer()),
			patch:    patchItem,
			setImage: setItemImage,
		}
	}
	return nil
}

// Open handles POST /api/sessions. It creates a session and loads the entity;
// an omitted id starts a new one.
func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := model.NewID
	if req.ID != nil {
		id = *req.ID
	}
	if id <= 0 && id != model.NewID {
		jsonError(w, http.StatusBadRequest, "invalid id")
		return
	}

	notices := &edit.NoticeQueue{}
	ed := h.newEditor(req.Kind, notices)
	if ed == nil {
		jsonError(w, http.StatusBadRequest, "kind must be box or item")
		return
	}

	if err := ed.Load(r.Context(), id); err != nil {
		ed.Close()
		status := http.StatusInternalServerError
		if errors.Is(err, edit.ErrNotFound) {
			status = http.StatusNotFound
		} else {
			slog.Error("loading session", "kind", req.Kind, "id", id, "error", err)
		}
		jsonResponse(w, status, map[string]any{
			"error":   err.Error(),
			"notices": notices.Drain(),
		})
		return
	}

	sid := uuid.NewString()
	s := &openSession{kind: req.Kind, editor: ed, notices: notices, lastUsed: time.Now()}

	h.mu.Lock()
	if h.open == nil {
		h.open = make(map[string]*openSession)
	}
	h.open[sid] = s
	h.mu.Unlock()
	if h.Metrics != nil {
		h.Metrics.SessionOpened()
	}

	slog.Info("edit session opened", "session", sid, "kind", req.Kind, "id", id)
	jsonResponse(w, http.StatusCreated, h.response(sid, s, nil))
}

// Get handles GET /api/sessions/{sid}. With ?wait=1 it first waits for the
// running validation to settle.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("wait") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
		defer cancel()
		if err := s.editor.Wait(ctx); err != nil {
			jsonError(w, http.StatusGatewayTimeout, "validation did not settle")
			return
		}
	}

	jsonResponse(w, http.StatusOK, h.response(sid, s, nil))
}

// Edit handles PUT /api/sessions/{sid}.
func (h *SessionsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var p draftPatch
	if err := decodeJSON(r, &p); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.kind == kindItem && p.Code != nil {
		jsonError(w, http.StatusBadRequest, "items have no code")
		return
	}
	if s.kind == kindBox && p.Consumable != nil {
		jsonError(w, http.StatusBadRequest, "boxes are not consumable")
		return
	}

	if err := s.editor.Apply(p); err != nil {
		h.editError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, h.response(sid, s, nil))
}

// SetImage handles PUT /api/sessions/{sid}/image. The photo is sent as the
// "image" field of a multipart form and normalised before it replaces the
// draft's photo.
func (h *SessionsHandler) SetImage(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := h.Imaging.MaxBytes
	if limit <= 0 {
		limit = imaging.DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file, h.Imaging)
	switch {
	case errors.Is(err, imaging.ErrUnsupported):
		jsonError(w, http.StatusUnsupportedMediaType, "image must be JPEG or PNG")
		return
	case errors.Is(err, imaging.ErrTooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	case err != nil:
		jsonError(w, http.StatusBadRequest, "could not read image")
		return
	}

	if err := s.editor.SetImage(photo.Data, photo.MIME); err != nil {
		h.editError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, h.response(sid, s, nil))
}

// Save handles POST /api/sessions/{sid}/save.
func (h *SessionsHandler) Save(w http.ResponseWriter, r *http.Request) {
	sid, s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	saved, err := s.editor.Save(r.Context())
	switch {
	case err == nil:
		slog.Info("entity saved", "session", sid, "kind", s.kind)
		jsonResponse(w, http.StatusOK, h.response(sid, s, saved))
	case errors.Is(err, edit.ErrInvalid):
		jsonResponse(w, http.StatusUnprocessableEntity, h.response(sid, s, nil))
	case errors.Is(err, edit.ErrSaveInProgress):
		jsonError(w, http.StatusConflict, "save already in progress")
	case errors.Is(err, edit.ErrClosed):
		jsonError(w, http.StatusNotFound, "session not found")
	default:
		slog.Error("saving entity", "session", sid, "kind", s.kind, "error", err)
		jsonResponse(w, http.StatusInternalServerError, h.response(sid, s, nil))
	}
}

// Close handles DELETE /api/sessions/{sid}.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	h.mu.Lock()
	s, ok := h.open[sid]
	delete(h.open, sid)
	h.mu.Unlock()

	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	h.discard(s)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "session closed"})
}

// Sweep closes sessions that have not been used for idle.
func (h *SessionsHandler) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	h.mu.Lock()
	var stale []*openSession
	for sid, s := range h.open {
		if s.lastUsed.Before(cutoff) {
			stale = append(stale, s)
			delete(h.open, sid)
		}
	}
	h.mu.Unlock()

	for _, s := range stale {
		h.discard(s)
	}
	return len(stale)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (h *SessionsHandler) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(idle); n > 0 {
				slog.Info("closed idle edit sessions", "count", n)
			}
		}
	}
}

// CloseAll discards every open session.
func (h *SessionsHandler) CloseAll() {
	h.mu.Lock()
	open := h.open
	h.open = nil
	h.mu.Unlock()

	for _, s := range open {
		h.discard(s)
	}
}

func (h *SessionsHandler) discard(s *openSession) {
	s.editor.Close()
	if h.Metrics != nil {
		h.Metrics.SessionClosed()
	}
}

func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (string, *openSession, bool) {
	sid := r.PathValue("sid")

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.open[sid]
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return "", nil, false
	}
	s.lastUsed = time.Now()
	return sid, s, true
}

func (h *SessionsHandler) editError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, edit.ErrClosed):
		jsonError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, edit.ErrNotLoaded):
		jsonError(w, http.StatusConflict, "session not loaded")
	default:
		jsonError(w, http.StatusInternalServerError, "failed to edit draft")
	}
}

func (h *SessionsHandler) response(sid string, s *openSession, saved any) sessionResponse {
	return sessionResponse{
		ID:      sid,
		Kind:    s.kind,
		State:   s.editor.State(),
		Saved:   saved,
		Notices: s.notices.Drain(),
	}
}
