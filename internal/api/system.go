package api

import "net/http"

// handleSystemResources reports cluster headroom.
func (s *Server) handleSystemResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.capacity.Snapshot())
}

// handleGlobalStats reports service-wide totals.
func (s *Server) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	totalHarvested, err := s.db.TotalHarvested()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	accounts, err := s.db.CountAccounts()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	statuses, err := s.db.CountInstancesByStatus()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var totalInstances int
	for _, n := range statuses {
		totalInstances += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalHarvested":    totalHarvested,
		"totalAccounts":     accounts,
		"totalInstances":    totalInstances,
		"instancesByStatus": statuses,
	})
}
