package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleGlobalStatus returns the shared tree snapshot.
func (s *Server) handleGlobalStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.pool.Status()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"availablePositions": st.AvailablePositions,
		"totalHarvested":     st.TotalHarvested,
		"nextRegrowthTime":   st.NextRegrowthTime,
	})
}

// handleHarvestable reports whether the caller may harvest right now and,
// if not, how long until the cooldown clears.
func (s *Server) handleHarvestable(w http.ResponseWriter, r *http.Request) {
	can, wait, err := s.ledger.CanHarvest(accountID(r), time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]interface{}{
		"canHarvest":  can,
		"waitSeconds": int64(wait.Seconds()),
	}
	if !can {
		next := time.Now().UTC().Add(wait)
		resp["nextHarvestTime"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStartQuiz issues a quiz attempt for a tree position.
func (s *Server) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	positionID, ok := pathInt(r, "positionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid position ID")
		return
	}
	res, err := s.quiz.Start(accountID(r), positionID, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSubmitAnswer scores a quiz answer and, when correct, opens the
// harvest window. The wire names are optionIdx/attemptID; the older
// selectedOption/attemptId spellings are accepted as aliases.
func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttemptID      int64 `json:"attemptID"`
		AttemptIDAlias int64 `json:"attemptId"`
		OptionIdx      *int  `json:"optionIdx"`
		SelectedOption *int  `json:"selectedOption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	attemptID := req.AttemptID
	if attemptID == 0 {
		attemptID = req.AttemptIDAlias
	}
	selected := req.OptionIdx
	if selected == nil {
		selected = req.SelectedOption
	}
	if selected == nil {
		writeError(w, http.StatusBadRequest, "optionIdx is required")
		return
	}
	res, err := s.quiz.Submit(accountID(r), attemptID, *selected, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHarvest settles the harvest click for an open window.
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID int   `json:"positionId"`
		AttemptID  int64 `json:"attemptId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.harvest.Harvest(accountID(r), req.PositionID, req.AttemptID, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
