package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/itembox/internal/model"
	"github.com/hitoshi/itembox/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	ListItems(ctx context.Context, id string) ([]*model.Item, error)
	Create(ctx context.Context, in user.Input) (*model.User, error)
	Update(ctx context.Context, id string, in user.Input) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// userResponse はユーザーのレスポンス。
type userResponse struct {
	ID          string     `json:"id"`
	GitHubID    string     `json:"githubId,omitempty"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email"`
	AvatarURL   string     `json:"avatarUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		GitHubID:    u.GitHubID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
		UpdatedAt:   u.UpdatedAt,
	}
}

// List はユーザー一覧を返す。
// GET /api/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はユーザー詳細を返す。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// ListItems はユーザーが所有するアイテム一覧を返す。
// GET /api/users/{id}/items
func (h *UserHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items))
}

// Create はユーザーを作成する。
// POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in user.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	u, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// Update はユーザーのプロフィールを更新する。
// PUT /api/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in user.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	u, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Delete はユーザーを削除する。ユーザーのセッションも同時に削除される。
// DELETE /api/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted"})
}
