/*
dto.go - Data Transfer Objects for the ops API

JSON structures for requests and responses. DTOs are pure data carriers;
validation lives in the handlers.
*/
package api

import (
	"time"

	"github.com/countermeasure/economy-engine/economy"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// UserDTO represents an account in API responses.
type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Balance   int64  `json:"balance"`
	Research  int64  `json:"research"`
	CreatedAt string `json:"created_at,omitempty"`
}

// RegisterUserRequest registers an account. ID is optional; when absent a
// fresh identifier is generated.
type RegisterUserRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RegisterUserResponse reports whether the registration created a new row.
type RegisterUserResponse struct {
	User    UserDTO `json:"user"`
	Created bool    `json:"created"`
}

// IncomeRecordDTO represents one recurring income source. Amount is null
// when the stored amount is NULL (which settles as zero).
type IncomeRecordDTO struct {
	UserID     string `json:"user_id"`
	SourceName string `json:"source_name"`
	Kind       string `json:"kind"`
	Amount     *int64 `json:"amount"`
}

// UpsertIncomeRequest creates or replaces an income record.
type UpsertIncomeRequest struct {
	SourceName string `json:"source_name"`
	Kind       string `json:"kind"`
	Amount     *int64 `json:"amount"`
}

// JournalEntryDTO is one settlement journal row.
type JournalEntryDTO struct {
	RunDate    string `json:"run_date"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunSettlementRequest triggers a settlement. Date defaults to today (UTC)
// when empty.
type RunSettlementRequest struct {
	Date string `json:"date"`
}

// RunSettlementResponse returns the journal outcome of the triggered run.
type RunSettlementResponse struct {
	RunDate string `json:"run_date"`
	Status  string `json:"status"`
}

// StatsDTO is the economy-wide report. Means are decimal strings rounded
// to two places.
type StatsDTO struct {
	Users             int64  `json:"users"`
	TotalBalance      int64  `json:"total_balance"`
	TotalResearch     int64  `json:"total_research"`
	MeanBalance       string `json:"mean_balance"`
	MeanResearch      string `json:"mean_research"`
	PerPeriodCurrency int64  `json:"per_period_currency"`
	PerPeriodResearch int64  `json:"per_period_research"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u economy.User) UserDTO {
	dto := UserDTO{
		ID:       string(u.ID),
		Username: u.Username,
		Balance:  u.Balance,
		Research: u.Research,
	}
	if !u.CreatedAt.IsZero() {
		dto.CreatedAt = u.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toIncomeDTO(rec economy.IncomeRecord) IncomeRecordDTO {
	return IncomeRecordDTO{
		UserID:     string(rec.UserID),
		SourceName: rec.SourceName,
		Kind:       string(rec.Kind),
		Amount:     rec.Amount,
	}
}

func toJournalDTO(e economy.JournalEntry) JournalEntryDTO {
	dto := JournalEntryDTO{
		RunDate:   e.RunDate.String(),
		Status:    string(e.Status),
		StartedAt: e.StartedAt.UTC().Format(time.RFC3339),
		Error:     e.ErrorMsg,
	}
	if e.FinishedAt != nil {
		dto.FinishedAt = e.FinishedAt.UTC().Format(time.RFC3339)
	}
	return dto
}
