package httpapi

import (
	"net/http"
	"time"

	"authd/internal/domain/models"
	"authd/internal/services/items"
)

type ItemHandler struct {
	items *items.Items
}

func NewItemHandler(service *items.Items) *ItemHandler {
	return &ItemHandler{items: service}
}

type createItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type itemResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type itemListResponse struct {
	Items []itemResponse `json:"items"`
	Meta  pageMeta       `json:"meta"`
}

type itemSearchResponse struct {
	Items []itemResponse `json:"items"`
	Count int            `json:"count"`
}

func toItemResponse(item *models.Item) itemResponse {
	return itemResponse{
		ID:          item.PublicID,
		Name:        item.Name,
		Description: item.Description,
		Status:      item.Status,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req createItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}

	item, err := h.items.Create(r.Context(), userID, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	item, err := h.items.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	page, perPage := pageFromQuery(r)
	status := r.URL.Query().Get("status")

	list, meta, err := h.items.List(r.Context(), userID, status, items.Page{Page: page, PerPage: perPage})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := itemListResponse{
		Items: make([]itemResponse, 0, len(list)),
		Meta:  pageMeta{Page: meta.Page, PerPage: meta.PerPage, Total: meta.Total},
	}
	for _, item := range list {
		resp.Items = append(resp.Items, toItemResponse(item))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ItemHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	q := r.URL.Query().Get("q")
	limit := intQuery(r, "limit", 0)

	list, err := h.items.Search(r.Context(), userID, q, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := itemSearchResponse{Items: make([]itemResponse, 0, len(list)), Count: len(list)}
	for _, item := range list {
		resp.Items = append(resp.Items, toItemResponse(item))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req updateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}

	item, err := h.items.Update(r.Context(), userID, r.PathValue("id"), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *ItemHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}

	item, err := h.items.SetStatus(r.Context(), userID, r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	if err := h.items.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "item deleted"})
}
