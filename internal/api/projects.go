package api

import (
	"errors"
	"net/http"

	"github.com/user/projectdesk/internal/dossier"
	"github.com/user/projectdesk/internal/store"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type patchProjectRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type clearProjectRequest struct {
	Path string `json:"path"`
}

type projectSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type projectDetailResponse struct {
	Name    string         `json:"name"`
	Context map[string]any `json:"context"`
}

func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Description == "" {
		writeError(w, http.StatusBadRequest, "name and description are required")
		return
	}

	d, err := h.store.Create(r.Context(), req.Name, req.Description)
	if errors.Is(err, store.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, "project already exists")
		return
	}
	if errors.Is(err, dossier.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.notify(d.Project, "created")
	writeJSON(w, http.StatusCreated, h.detail(d))
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Records(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries := make([]projectSummary, len(records))
	for i, record := range records {
		summaries[i] = projectSummary{Name: record.Name, Description: record.Description}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d, err := h.store.Load(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.detail(d))
}

func (h *handler) patchProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req patchProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	err := h.store.Mutate(r.Context(), name, func(d *dossier.Dossier) error {
		return d.Set(req.Path, req.Value)
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if errors.Is(err, dossier.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.notify(name, "set:"+req.Path)
	d, err := h.store.Load(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.detail(d))
}

func (h *handler) clearProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req clearProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.store.Mutate(r.Context(), name, func(d *dossier.Dossier) error {
		return d.Clear(req.Path)
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if errors.Is(err, dossier.ErrUnknownPath) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.notify(name, "clear:"+req.Path)
	d, err := h.store.Load(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.detail(d))
}

func (h *handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.store.Delete(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.notify(name, "deleted")
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *handler) detail(d *dossier.Dossier) projectDetailResponse {
	tree := map[string]any{}
	if value, err := d.Get(""); err == nil {
		if m, ok := value.(map[string]any); ok {
			tree = m
		}
	}
	return projectDetailResponse{Name: d.Project, Context: tree}
}

func (h *handler) notify(project, event string) {
	if h.hub == nil {
		return
	}
	h.hub.NotifyEvent(project, event)
}
