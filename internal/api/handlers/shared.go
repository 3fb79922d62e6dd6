// Package handlers adapts HTTP requests to service calls.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// maxBodyBytes caps request bodies. Batch bodies are the largest legitimate payloads.
const maxBodyBytes = 1 << 20

// parseJSON decodes the request body into a T. Unknown fields are rejected.
func parseJSON[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, errors.New("request body is required")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, errors.New("request body is required")
		}
		return v, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

// errorStatuses maps service sentinels onto HTTP statuses. Order matters only for errors
// wrapping more than one sentinel.
var errorStatuses = []struct {
	err    error
	status int
}{
	{apperrors.ErrPortfolioNotFound, http.StatusNotFound},
	{apperrors.ErrTransactionNotFound, http.StatusNotFound},
	{apperrors.ErrAssetNotFound, http.StatusNotFound},
	{apperrors.ErrMetricsNotFound, http.StatusNotFound},
	{apperrors.ErrValidation, http.StatusBadRequest},
	{apperrors.ErrInvalidTicker, http.StatusBadRequest},
	{apperrors.ErrInvalidAllocation, http.StatusBadRequest},
	{apperrors.ErrInvalidUUID, http.StatusBadRequest},
	{apperrors.ErrInsufficientFunds, http.StatusConflict},
	{apperrors.ErrInsufficientShares, http.StatusConflict},
	{apperrors.ErrTransactionNotPending, http.StatusConflict},
	{apperrors.ErrConcurrentModification, http.StatusConflict},
	{apperrors.ErrDuplicateEntry, http.StatusConflict},
	{apperrors.ErrPortfolioLimitReached, http.StatusForbidden},
	{apperrors.ErrUserNotFound, http.StatusUnauthorized},
	{apperrors.ErrBacktestUnavailable, http.StatusServiceUnavailable},
}

// respondServiceError writes err with the status its sentinel maps to, using the sentinel
// text as message and the full error as details. Validation errors carry their field
// messages instead. Unmapped errors become 500 under fallback.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var ve *validation.Error
	if errors.As(err, &ve) {
		response.RespondError(w, http.StatusBadRequest, "validation failed", ve.Fields)
		return
	}

	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			response.RespondError(w, m.status, m.err.Error(), err.Error())
			return
		}
	}
	response.RespondError(w, http.StatusInternalServerError, fallback, err.Error())
}

// respondBatch writes a batch outcome. A batch where every item failed is reported as 422
// with the per-item results as details.
func respondBatch(w http.ResponseWriter, result any, err error, fallback string) {
	if errors.Is(err, apperrors.ErrBatchFailed) {
		response.RespondError(w, http.StatusUnprocessableEntity, apperrors.ErrBatchFailed.Error(), result)
		return
	}
	if err != nil {
		respondServiceError(w, err, fallback)
		return
	}
	response.RespondJSON(w, http.StatusOK, result)
}
