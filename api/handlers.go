/*
handlers.go - HTTP handlers for the ops API

PURPOSE:
  The operational surface around the settlement core: account registration,
  income record administration (the boundary the external catalog writes
  through), journal browsing, a manual settlement trigger, and an
  economy-wide stats report.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call store / settler
  4. Serialize response

ERROR HANDLING:
  Errors come back as JSON with the appropriate status:
  - 400: invalid input
  - 404: unknown user / income record / income kind
  - 500: storage errors

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/countermeasure/economy-engine/economy"
	"github.com/countermeasure/economy-engine/store/sqlite"
)

// timeNow is swapped out by tests that pin "today".
var timeNow = time.Now

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Store   *sqlite.Store
	Settler *economy.Settler
	Log     zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(store *sqlite.Store, settler *economy.Settler, log zerolog.Logger) *Handler {
	return &Handler{Store: store, Settler: settler, Log: log}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, economy.ErrUserNotFound):
		h.respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, economy.ErrIncomeNotFound):
		h.respondError(w, http.StatusNotFound, "income record not found")
	default:
		h.Log.Error().Err(err).Msg("storage error")
		h.respondError(w, http.StatusInternalServerError, "storage error")
	}
}

func parseKind(s string) (economy.IncomeKind, bool) {
	switch economy.IncomeKind(s) {
	case economy.IncomeCurrency:
		return economy.IncomeCurrency, true
	case economy.IncomeResearch:
		return economy.IncomeResearch, true
	default:
		return "", false
	}
}

// =============================================================================
// USERS
// =============================================================================

// RegisterUser handles POST /api/users.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	created, err := h.Store.RegisterUser(r.Context(), economy.UserID(req.ID), req.Username)
	if err != nil {
		h.storeError(w, err)
		return
	}

	user, err := h.Store.GetUser(r.Context(), economy.UserID(req.ID))
	if err != nil {
		h.storeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, RegisterUserResponse{User: toUserDTO(*user), Created: created})
}

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}

	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u))
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// GetUser handles GET /api/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.Store.GetUser(r.Context(), economy.UserID(id))
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toUserDTO(*user))
}

// DeleteUser handles DELETE /api/users/{id}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteUser(r.Context(), economy.UserID(id)); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INCOME RECORDS
// =============================================================================

// ListIncome handles GET /api/users/{id}/income.
func (h *Handler) ListIncome(w http.ResponseWriter, r *http.Request) {
	id := economy.UserID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetUser(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}

	records, err := h.Store.ListIncome(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}

	dtos := make([]IncomeRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toIncomeDTO(rec))
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// UpsertIncome handles PUT /api/users/{id}/income.
func (h *Handler) UpsertIncome(w http.ResponseWriter, r *http.Request) {
	id := economy.UserID(chi.URLParam(r, "id"))

	var req UpsertIncomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SourceName == "" {
		h.respondError(w, http.StatusBadRequest, "source_name is required")
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "kind must be currency or research")
		return
	}

	if _, err := h.Store.GetUser(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}

	rec := economy.IncomeRecord{
		UserID:     id,
		SourceName: req.SourceName,
		Kind:       kind,
		Amount:     req.Amount,
	}
	if err := h.Store.UpsertIncome(r.Context(), rec); err != nil {
		h.storeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toIncomeDTO(rec))
}

// DeleteIncome handles DELETE /api/users/{id}/income/{kind}/{source}.
func (h *Handler) DeleteIncome(w http.ResponseWriter, r *http.Request) {
	id := economy.UserID(chi.URLParam(r, "id"))
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		h.respondError(w, http.StatusBadRequest, "kind must be currency or research")
		return
	}
	source := chi.URLParam(r, "source")

	if err := h.Store.DeleteIncome(r.Context(), id, kind, source); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// ListSettlements handles GET /api/settlements.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.Store.ListJournal(r.Context(), limit)
	if err != nil {
		h.storeError(w, err)
		return
	}

	dtos := make([]JournalEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toJournalDTO(e))
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// RunSettlement handles POST /api/settlements/run. It pushes the given date
// (default: today, UTC) through the same idempotent settlement path the
// scheduler uses, then reports the journal outcome.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	var req RunSettlementRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var date economy.Date
	if req.Date == "" {
		date = economy.DateOf(timeNow())
	} else {
		var err error
		if date, err = economy.ParseDate(req.Date); err != nil {
			h.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	h.Settler.Settle(r.Context(), date)

	status, ok, err := h.Store.JournalStatus(r.Context(), date)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "settlement left no journal entry")
		return
	}
	h.respondJSON(w, http.StatusOK, RunSettlementResponse{RunDate: date.String(), Status: string(status)})
}

// =============================================================================
// STATS
// =============================================================================

// GetStats handles GET /api/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	users, balance, research, err := h.Store.Totals(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	currency, researchIncome, err := h.Store.ScheduledIncome(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}

	stats := StatsDTO{
		Users:             users,
		TotalBalance:      balance,
		TotalResearch:     research,
		MeanBalance:       "0",
		MeanResearch:      "0",
		PerPeriodCurrency: currency,
		PerPeriodResearch: researchIncome,
	}
	if users > 0 {
		n := decimal.NewFromInt(users)
		stats.MeanBalance = decimal.NewFromInt(balance).DivRound(n, 2).String()
		stats.MeanResearch = decimal.NewFromInt(research).DivRound(n, 2).String()
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
