package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"authd/internal/services/users"
)

type UserHandler struct {
	users *users.Users
}

func NewUserHandler(service *users.Users) *UserHandler {
	return &UserHandler{users: service}
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type pageMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
}

type userListResponse struct {
	Users []userResponse `json:"users"`
	Meta  pageMeta       `json:"meta"`
}

// publicProfileResponse is what other users see: no email, no account state.
type publicProfileResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

func pageFromQuery(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return page, perPage
}

func intQuery(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	user, err := h.users.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}

	user, err := h.users.Update(r.Context(), userID, req.FirstName, req.LastName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}

	if err := h.users.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *UserHandler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	if err := h.users.DeactivateSelf(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}

func (h *UserHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.PublicProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, publicProfileResponse{
		ID:        user.PublicID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CreatedAt: user.CreatedAt,
	})
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	page, perPage := pageFromQuery(r)

	list, meta, err := h.users.List(r.Context(), userID, users.Page{Page: page, PerPage: perPage})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := userListResponse{
		Users: make([]userResponse, 0, len(list)),
		Meta:  pageMeta{Page: meta.Page, PerPage: meta.PerPage, Total: meta.Total},
	}
	for _, u := range list {
		resp.Users = append(resp.Users, toUserResponse(u))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	publicID := r.PathValue("id")

	if err := h.users.Deactivate(r.Context(), userID, publicID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "user deactivated"})
}
