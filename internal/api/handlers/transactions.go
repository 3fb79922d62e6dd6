package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/request"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// TransactionHandler handles HTTP requests for ledger endpoints.
// Single operations go to the ledger; batch operations go to the suggestion service,
// which reports per-item outcomes.
type TransactionHandler struct {
	ledgerService     *service.LedgerService
	suggestionService *service.SuggestionService
}

// NewTransactionHandler creates a new TransactionHandler with the provided service dependencies.
func NewTransactionHandler(ledgerService *service.LedgerService, suggestionService *service.SuggestionService) *TransactionHandler {
	return &TransactionHandler{
		ledgerService:     ledgerService,
		suggestionService: suggestionService,
	}
}

// CashBalanceResponse is the body of the cash balance endpoints.
type CashBalanceResponse struct {
	PortfolioID string          `json:"portfolioId"`
	CashBalance decimal.Decimal `json:"cashBalance"`
}

// DeletePendingResponse reports how many pending rows were removed.
type DeletePendingResponse struct {
	Deleted int64 `json:"deleted"`
}

// TransactionPerPortfolio handles GET requests to list a portfolio's ledger in order.
// An optional status query parameter filters the rows.
//
// Endpoint: GET /api/portfolio/{uuid}/transactions?status=PENDING
// Response: 200 OK with array of Transaction
// Error: 400 Bad Request if the status is unknown
// Error: 404 Not Found if portfolio not found
func (h *TransactionHandler) TransactionPerPortfolio(w http.ResponseWriter, r *http.Request) {
	var status *model.TransactionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := model.TransactionStatus(s)
		status = &st
	}

	transactions, err := h.ledgerService.ListTransactions(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), status)
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveTransactions.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, transactions)
}

// CreateTransaction handles POST requests to record a manual ledger entry.
// Confirmed debits are checked against the cash balance.
//
// Endpoint: POST /api/portfolio/{uuid}/transactions
// Request Body: CreateTransactionRequest
// Response: 201 Created with Transaction
// Error: 400 Bad Request if validation fails or the ticker is unknown
// Error: 409 Conflict if the balance would go negative
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.CreateTransactionRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	in, err := req.ToModel()
	if err != nil {
		respondServiceError(w, err, "")
		return
	}

	transaction, err := h.ledgerService.CreateManualTransaction(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), in)
	if err != nil {
		respondServiceError(w, err, "failed to create transaction")
		return
	}

	response.RespondJSON(w, http.StatusCreated, transaction)
}

// ConfirmTransaction handles POST requests to confirm a pending transaction.
// The body is optional and may override amount, price and quantity. The date is fixed.
//
// Endpoint: POST /api/transaction/{uuid}/confirm
// Request Body: ConfirmRequest (optional)
// Response: 200 OK with Transaction
// Error: 404 Not Found if transaction not found
// Error: 409 Conflict if the transaction is not pending or funds or shares are insufficient
func (h *TransactionHandler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	var req *request.ConfirmRequest
	if r.ContentLength != 0 {
		body, err := parseJSON[request.ConfirmRequest](r)
		if err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		req = &body
	}
	transaction, err := h.ledgerService.ConfirmTransaction(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), req.ToOverrides())
	if err != nil {
		respondServiceError(w, err, "failed to confirm transaction")
		return
	}

	response.RespondJSON(w, http.StatusOK, transaction)
}

// RejectTransaction handles POST requests to reject a pending transaction.
//
// Endpoint: POST /api/transaction/{uuid}/reject
// Request Body: RejectRequest (optional)
// Response: 200 OK with Transaction
// Error: 404 Not Found if transaction not found
// Error: 409 Conflict if the transaction is not pending
func (h *TransactionHandler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	var req request.RejectRequest
	if r.ContentLength != 0 {
		var err error
		req, err = parseJSON[request.RejectRequest](r)
		if err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	transaction, err := h.ledgerService.RejectTransaction(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), req.Reason)
	if err != nil {
		respondServiceError(w, err, "failed to reject transaction")
		return
	}

	response.RespondJSON(w, http.StatusOK, transaction)
}

// ConfirmBatch handles POST requests to confirm several transactions.
// Items are processed independently; the result lists each outcome.
//
// Endpoint: POST /api/transaction/confirm-batch
// Request Body: BatchConfirmRequest
// Response: 200 OK with BatchResult
// Error: 400 Bad Request if the id list is empty or holds a malformed id
// Error: 422 Unprocessable Entity if every item failed
func (h *TransactionHandler) ConfirmBatch(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.BatchConfirmRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	items := req.ToItems()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	if err := validation.ValidateUUIDs(ids); err != nil {
		respondServiceError(w, err, "")
		return
	}

	result, err := h.suggestionService.ConfirmBatchTransactions(r.Context(), middleware.UserID(r.Context()), items)
	respondBatch(w, result, err, "failed to confirm transactions")
}

// RejectBatch handles POST requests to reject several transactions with one reason.
//
// Endpoint: POST /api/transaction/reject-batch
// Request Body: BatchRejectRequest
// Response: 200 OK with BatchResult
// Error: 400 Bad Request if the id list is empty or holds a malformed id
// Error: 422 Unprocessable Entity if every item failed
func (h *TransactionHandler) RejectBatch(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.BatchRejectRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := validation.ValidateUUIDs(req.IDs); err != nil {
		respondServiceError(w, err, "")
		return
	}

	result, err := h.suggestionService.RejectTransactionsBatch(r.Context(), middleware.UserID(r.Context()), req.IDs, req.Reason)
	respondBatch(w, result, err, "failed to reject transactions")
}

// DeletePending handles DELETE requests that remove every pending row of a portfolio.
//
// Endpoint: DELETE /api/portfolio/{uuid}/transactions/pending
// Response: 200 OK with DeletePendingResponse
// Error: 404 Not Found if portfolio not found
func (h *TransactionHandler) DeletePending(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.suggestionService.DeletePendingTransactionsForUser(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, "failed to delete pending transactions")
		return
	}

	response.RespondJSON(w, http.StatusOK, DeletePendingResponse{Deleted: deleted})
}

// CashBalance returns the cash balance after the last settled transaction.
//
// Endpoint: GET /api/portfolio/{uuid}/cash-balance
func (h *TransactionHandler) CashBalance(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "uuid")

	balance, err := h.ledgerService.GetCashBalance(r.Context(), middleware.UserID(r.Context()), portfolioID)
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveBalance.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, CashBalanceResponse{PortfolioID: portfolioID, CashBalance: balance})
}

// RecalculateCashBalance replays the ledger and rewrites every balance snapshot.
//
// Endpoint: POST /api/portfolio/{uuid}/cash-balance/recalculate
func (h *TransactionHandler) RecalculateCashBalance(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "uuid")

	balance, err := h.ledgerService.RecalculateCashBalancesForUser(r.Context(), middleware.UserID(r.Context()), portfolioID)
	if err != nil {
		respondServiceError(w, err, "failed to recalculate cash balances")
		return
	}

	response.RespondJSON(w, http.StatusOK, CashBalanceResponse{PortfolioID: portfolioID, CashBalance: balance})
}
