package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/request"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
)

// SuggestionHandler serves the suggestion engine: listing, materializing and executing.
type SuggestionHandler struct {
	suggestionService *service.SuggestionService
}

// NewSuggestionHandler creates a new SuggestionHandler.
func NewSuggestionHandler(suggestionService *service.SuggestionService) *SuggestionHandler {
	return &SuggestionHandler{
		suggestionService: suggestionService,
	}
}

// CreatedResponse lists the ids of materialized pending transactions.
type CreatedResponse struct {
	IDs []string `json:"ids"`
}

// Suggestions handles GET requests for one kind of suggestion.
// Nothing is written; suggestions only become transactions when posted back.
//
// Endpoint: GET /api/portfolio/{uuid}/suggestions/{type}
// Response: 200 OK with SuggestionSet
// Error: 400 Bad Request if type is not rebalancing, contribution or dividends
// Error: 404 Not Found if portfolio not found
func (h *SuggestionHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	kind := model.SuggestionKind(chi.URLParam(r, "type"))

	set, err := h.suggestionService.GetSuggestions(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), kind)
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveSuggestions.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, set)
}

// CreatePending handles POST requests that store suggestions as pending transactions.
// Re-posting the same suggestions returns the existing ids.
//
// Endpoint: POST /api/portfolio/{uuid}/suggestions
// Request Body: CreateSuggestionsRequest
// Response: 201 Created with CreatedResponse
// Error: 400 Bad Request if a suggestion is invalid
func (h *SuggestionHandler) CreatePending(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.CreateSuggestionsRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ids, err := h.suggestionService.CreatePendingTransactions(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), req.Suggestions)
	if err != nil {
		respondServiceError(w, err, "failed to create pending transactions")
		return
	}

	response.RespondJSON(w, http.StatusCreated, CreatedResponse{IDs: ids})
}

// ExecuteRebalancing materializes and confirms the current rebalancing suggestions.
//
// Endpoint: POST /api/portfolio/{uuid}/rebalance
// Response: 200 OK with BatchResult
// Error: 400 Bad Request if pending contributions block rebalancing
// Error: 422 Unprocessable Entity if every confirmation failed
func (h *SuggestionHandler) ExecuteRebalancing(w http.ResponseWriter, r *http.Request) {
	result, err := h.suggestionService.ExecuteRebalancing(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	respondBatch(w, result, err, "failed to execute rebalancing")
}
