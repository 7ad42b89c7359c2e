package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grovekit/grove/internal/domain"
)

type contextKey string

const accountKey contextKey = "grove-account-id"

// withAccount resolves the caller from the X-Account-ID header, provisioning
// the account (with its welcome bonus) on first sight. Identity is assumed
// verified upstream; this service only needs a stable account ID.
func (s *Server) withAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := strings.TrimSpace(r.Header.Get("X-Account-ID"))
		if accountID == "" {
			writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
			return
		}
		email := strings.TrimSpace(r.Header.Get("X-Account-Email"))

		if _, err := s.ledger.EnsureAccount(accountID, email, time.Now().UTC()); err != nil {
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) string {
	id, _ := r.Context().Value(accountKey).(string)
	return id
}

// handleAccount returns the caller's account record.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleTransactions pages the caller's ledger history.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txs, err := s.ledger.Transactions(accountID(r), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}
