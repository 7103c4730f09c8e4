package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/itembox/internal/item"
	"github.com/hitoshi/itembox/internal/model"
)

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	List(ctx context.Context) ([]*model.Item, error)
	Get(ctx context.Context, id string) (*model.Item, error)
	Create(ctx context.Context, in item.Input) (*model.Item, error)
	Update(ctx context.Context, id string, in item.Input) (*model.Item, error)
	Delete(ctx context.Context, id string) error
}

// ItemHandler はアイテム管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// itemResponse はアイテムのレスポンス。
type itemResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"` // サニタイズ済みHTML
	Price       *float64  `json:"price,omitempty"`
	Quantity    *int      `json:"quantity,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toItemResponse(it *model.Item) itemResponse {
	return itemResponse{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.Description,
		Price:       it.Price,
		Quantity:    it.Quantity,
		UserID:      it.UserID,
		CreatedAt:   it.CreatedAt,
	}
}

func toItemResponses(items []*model.Item) []itemResponse {
	resp := make([]itemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, toItemResponse(it))
	}
	return resp
}

// List はアイテム一覧を返す。
// GET /api/items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items))
}

// Get はアイテム詳細を返す。
// GET /api/items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	it, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Create はアイテムを作成する。
// POST /api/items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in item.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	it, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(it))
}

// Update はアイテムを更新する。
// PUT /api/items/{id}
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in item.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	it, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Delete はアイテムを削除する。
// DELETE /api/items/{id}
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Item deleted"})
}
