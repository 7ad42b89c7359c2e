package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grovekit/grove/internal/app/instance"
	"github.com/grovekit/grove/internal/domain"
)

// handlePresets returns the preset catalog.
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.instances.Presets()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if presets == nil {
		presets = []*domain.Preset{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"presets": presets})
}

// handleEstimateCost prices a creation request without creating anything.
func (s *Server) handleEstimateCost(w http.ResponseWriter, r *http.Request) {
	var req instance.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cost, err := s.instances.EstimateCost(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cost)
}

// handleListInstances returns the caller's instances.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.instances.List(accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []*domain.Instance{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": list,
		"count":     len(list),
	})
}

// handleCreateInstance admits and charges a new instance, returning it in
// Provisioning state while the provisioner works.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req instance.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inst, err := s.instances.Create(accountID(r), req, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// handleGetInstance returns one of the caller's instances.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.instances.Get(accountID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleDeleteInstance tears an instance down.
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.instances.Delete(accountID(r), chi.URLParam(r, "id"), time.Now().UTC()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStopInstance halts a running instance.
func (s *Server) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.instances.Stop(accountID(r), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleStartInstance resumes a stopped instance.
func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.instances.Start(accountID(r), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
