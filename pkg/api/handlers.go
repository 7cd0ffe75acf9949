package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ledger-service/pkg/ledger"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a posting request body.
const maxBodyBytes = 1 << 16

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]

	var req ledger.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	receipt, err := s.poster.PostTransaction(r.Context(), accountID, req)
	if err != nil {
		s.writeLedgerError(w, r, err, req)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	page, limit := pagination(r)

	result, err := s.querier.ListAccountTransactions(r.Context(), accountID, page, limit)
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.Request{})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)

	result, err := s.querier.ListTransactions(r.Context(), page, limit)
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.Request{})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.querier.ListAccounts(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.Request{})
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.querier.GetAccount(r.Context(), mux.Vars(r)["accountId"])
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.Request{})
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// pagination reads page and limit; unparsable values become 0 and are
// clamped to the defaults by the query service.
func pagination(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return page, limit
}

// fieldError is one entry of the optional errors list.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Errors []fieldError `json:"errors,omitempty"`
}

// statusOf maps the error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindValidation, ledger.KindBusinessRule:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError writes err as a JSON error body. Storage causes are only
// logged; the client sees the generic message.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error, req ledger.Request) {
	status := statusOf(err)

	message := "Internal server error"
	var le *ledger.Error
	if errors.As(err, &le) && le.Message != "" {
		message = le.Message
	}

	var details []fieldError
	if ledger.IsValidation(err) {
		for _, fe := range ledger.ValidateAll(req) {
			details = append(details, fieldError{Field: fe.Field, Message: fe.Message})
		}
		if len(details) < 2 {
			details = nil
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	writeError(w, status, message, details)
}

func writeError(w http.ResponseWriter, status int, message string, details []fieldError) {
	writeJSON(w, status, errorResponse{Error: message, Errors: details})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
