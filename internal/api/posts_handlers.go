package api

import (
	"net/http"
	"time"

	"github.com/vouse/vouse-server/internal/models"
)

// CreatePostHandler handles POST /posts.
func (h *Handlers) CreatePostHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req models.CreatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(time.Now()); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := h.posts.Create(r.Context(), principal.Subject, req)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, post)
}

// ListPostsHandler handles GET /posts.
func (h *Handlers) ListPostsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	posts, err := h.posts.List(r.Context(), principal.Subject)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	respondData(w, http.StatusOK, posts)
}

// GetPostHandler handles GET /posts/{id}.
func (h *Handlers) GetPostHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	post, err := h.posts.Get(r.Context(), principal.Subject, r.PathValue("id"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, post)
}

// GetPostByLocalIDHandler handles GET /posts/local/{postIdLocal}.
func (h *Handlers) GetPostByLocalIDHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	post, err := h.posts.GetByLocalID(r.Context(), principal.Subject, r.PathValue("postIdLocal"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, post)
}

// UpdatePostHandler handles PATCH /posts/{id}.
func (h *Handlers) UpdatePostHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req models.UpdatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(time.Now()); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := h.posts.Update(r.Context(), principal.Subject, r.PathValue("id"), req)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, post)
}

// DeletePostHandler handles DELETE /posts/{id}.
func (h *Handlers) DeletePostHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.posts.Delete(r.Context(), principal.Subject, r.PathValue("id")); err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
