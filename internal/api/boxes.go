package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
	"github.com/erazemk/boxanizer/internal/store"
)

// BoxesHandler handles box read, delete and placement endpoints. Boxes are
// created and changed through edit sessions.
type BoxesHandler struct {
	DB    *db.DB
	Boxes store.BoxRepository
}

type placeItemRequest struct {
	ItemID int64 `json:"item_id"`
}

// List handles GET /api/boxes?q=.
func (h *BoxesHandler) List(w http.ResponseWriter, r *http.Request) {
	boxes, err := h.Boxes.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("searching boxes", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list boxes")
		return
	}
	if boxes == nil {
		boxes = []model.Box{}
	}
	jsonResponse(w, http.StatusOK, boxes)
}

// Get handles GET /api/boxes/{id}.
func (h *BoxesHandler) Get(w http.ResponseWriter, r *http.Request) {
	box, ok := h.find(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, box)
}

// Delete handles DELETE /api/boxes/{id}. Items inside become unplaced.
func (h *BoxesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	box, ok := h.find(w, r)
	if !ok {
		return
	}

	if err := h.Boxes.Delete(r.Context(), box.ID); err != nil {
		slog.Error("deleting box", "id", box.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete box")
		return
	}

	slog.Info("box deleted", "id", box.ID, "code", box.Code)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "box deleted"})
}

// GetImage handles GET /api/boxes/{id}/image.
func (h *BoxesHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	box, ok := h.find(w, r)
	if !ok {
		return
	}
	writeImage(w, box.Image, box.ImageMime)
}

// Contents handles GET /api/boxes/{id}/items.
func (h *BoxesHandler) Contents(w http.ResponseWriter, r *http.Request) {
	box, ok := h.find(w, r)
	if !ok {
		return
	}

	contents, err := store.GetBoxContents(r.Context(), h.DB, box.ID)
	if err != nil {
		slog.Error("listing box contents", "id", box.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list box contents")
		return
	}
	jsonResponse(w, http.StatusOK, contents)
}

// Place handles POST /api/boxes/{id}/items.
func (h *BoxesHandler) Place(w http.ResponseWriter, r *http.Request) {
	boxID, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid box id")
		return
	}

	var req placeItemRequest
	if err := decodeJSON(r, &req); err != nil || req.ItemID <= 0 {
		jsonError(w, http.StatusBadRequest, "item_id required")
		return
	}

	err := store.PlaceItem(r.Context(), h.DB, req.ItemID, boxID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "box or item not found")
		return
	}
	if err != nil {
		slog.Error("placing item", "box", boxID, "item", req.ItemID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to place item")
		return
	}

	p, err := store.GetPlacement(r.Context(), h.DB, req.ItemID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to read placement")
		return
	}
	jsonResponse(w, http.StatusCreated, p)
}

// Remove handles DELETE /api/boxes/{id}/items/{itemID}.
func (h *BoxesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	boxID, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid box id")
		return
	}
	itemID, ok := pathID(r, "itemID")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	err := store.RemoveItem(r.Context(), h.DB, itemID, boxID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "item is not in this box")
		return
	}
	if err != nil {
		slog.Error("removing item", "box", boxID, "item", itemID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to remove item")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "item removed"})
}

func (h *BoxesHandler) find(w http.ResponseWriter, r *http.Request) (*model.Box, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid box id")
		return nil, false
	}

	box, err := h.Boxes.FindByID(r.Context(), id)
	if err != nil {
		slog.Error("getting box", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get box")
		return nil, false
	}
	if box == nil {
		jsonError(w, http.StatusNotFound, "box not found")
		return nil, false
	}
	return box, true
}
