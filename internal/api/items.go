package api

import (
	"log/slog"
	"net/http"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
	"github.com/erazemk/boxanizer/internal/store"
)

// ItemsHandler handles item read and delete endpoints.
type ItemsHandler struct {
	DB    *db.DB
	Items store.ItemRepository
}

type itemResponse struct {
	Item      *model.Item      `json:"item"`
	Placement *model.Placement `json:"placement"`
}

// List handles GET /api/items?q=.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Items.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("searching items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Get handles GET /api/items/{id}, including where the item was placed.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.find(w, r)
	if !ok {
		return
	}

	p, err := store.GetPlacement(r.Context(), h.DB, item.ID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item placement")
		return
	}

	jsonResponse(w, http.StatusOK, itemResponse{Item: item, Placement: p})
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.find(w, r)
	if !ok {
		return
	}

	if err := h.Items.Delete(r.Context(), item.ID); err != nil {
		slog.Error("deleting item", "id", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}

	slog.Info("item deleted", "id", item.ID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.find(w, r)
	if !ok {
		return
	}
	writeImage(w, item.Image, item.ImageMime)
}

func (h *ItemsHandler) find(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return nil, false
	}

	item, err := h.Items.FindByID(r.Context(), id)
	if err != nil {
		slog.Error("getting item", "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return nil, false
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}
