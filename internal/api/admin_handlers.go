package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/service"
)

type updateUserRequest struct {
	Role             *string `json:"role" validate:"omitempty,oneof=user admin"`
	TrialMode        *bool   `json:"trialMode"`
	CreditAdjustment *int    `json:"creditAdjustment"`
	Note             string  `json:"note" validate:"max=200"`
}

type sceneRequest struct {
	Name              string  `json:"name" validate:"required,max=100"`
	Description       string  `json:"description" validate:"max=500"`
	Prompt            string  `json:"prompt" validate:"required"`
	CreditCost        int     `json:"creditCost" validate:"gte=0"`
	IsActive          *bool   `json:"isActive"`
	ReferenceImageURL *string `json:"referenceImageUrl" validate:"omitempty,http_url"`
	SortOrder         int     `json:"sortOrder"`
}

type sceneUpdateRequest struct {
	Name              *string `json:"name" validate:"omitempty,max=100"`
	Description       *string `json:"description" validate:"omitempty,max=500"`
	Prompt            *string `json:"prompt"`
	CreditCost        *int    `json:"creditCost" validate:"omitempty,gte=0"`
	IsActive          *bool   `json:"isActive"`
	ReferenceImageURL *string `json:"referenceImageUrl"`
	SortOrder         *int    `json:"sortOrder"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Admin.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	mismatches, err := s.deps.Admin.Reconcile(r.Context(), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mismatches": mismatches})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Admin.ListUsers(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Admin.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	input := service.UpdateUserInput{
		TrialMode:        req.TrialMode,
		CreditAdjustment: req.CreditAdjustment,
		Note:             req.Note,
	}
	if req.Role != nil {
		role := models.Role(*req.Role)
		input.Role = &role
	}
	user, err := s.deps.Admin.UpdateUser(r.Context(), mustPrincipal(r).UserID, id, input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminListScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := s.deps.Scenes.List(r.Context(), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var req sceneRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	scene, err := s.deps.Scenes.Create(r.Context(), service.CreateSceneInput{
		Name:              req.Name,
		Description:       req.Description,
		Prompt:            req.Prompt,
		CreditCost:        req.CreditCost,
		IsActive:          req.IsActive,
		ReferenceImageURL: req.ReferenceImageURL,
		SortOrder:         req.SortOrder,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scene)
}

func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sceneUpdateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	scene, err := s.deps.Scenes.Update(r.Context(), id, service.UpdateSceneInput{
		Name:              req.Name,
		Description:       req.Description,
		Prompt:            req.Prompt,
		CreditCost:        req.CreditCost,
		IsActive:          req.IsActive,
		ReferenceImageURL: req.ReferenceImageURL,
		SortOrder:         req.SortOrder,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Scenes.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
