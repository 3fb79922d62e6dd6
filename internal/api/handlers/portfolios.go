package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/request"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
)

// PortfolioHandler handles HTTP requests for portfolio endpoints: the portfolio itself,
// its target allocation and its read models.
type PortfolioHandler struct {
	portfolioService *service.PortfolioService
}

// NewPortfolioHandler creates a new PortfolioHandler with the provided service dependency.
func NewPortfolioHandler(portfolioService *service.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: portfolioService,
	}
}

// Portfolios handles GET requests to list the caller's portfolios.
//
// Endpoint: GET /api/portfolio
// Response: 200 OK with array of Portfolio
// Error: 500 Internal Server Error if retrieval fails
func (h *PortfolioHandler) Portfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.portfolioService.ListPortfolios(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrievePortfolios.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, portfolios)
}

// CreatePortfolio handles POST requests to create a portfolio with its initial allocation.
// Weights are normalized to sum to 1.
//
// Endpoint: POST /api/portfolio
// Request Body: PortfolioRequest
// Response: 201 Created with PortfolioDetail
// Error: 400 Bad Request if the body is invalid or a ticker is unknown
// Error: 403 Forbidden if the caller reached the free portfolio limit
// Error: 500 Internal Server Error if creation fails
func (h *PortfolioHandler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.PortfolioRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	in, err := req.ToInput()
	if err != nil {
		respondServiceError(w, err, "")
		return
	}

	detail, err := h.portfolioService.CreatePortfolio(r.Context(), middleware.UserID(r.Context()), in)
	if err != nil {
		respondServiceError(w, err, "failed to create portfolio")
		return
	}

	response.RespondJSON(w, http.StatusCreated, detail)
}

// GetPortfolio handles GET requests to retrieve a portfolio with its allocation.
//
// Endpoint: GET /api/portfolio/{uuid}
// Response: 200 OK with PortfolioDetail
// Error: 404 Not Found if the portfolio does not exist or belongs to someone else
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	detail, err := h.portfolioService.GetPortfolio(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrievePortfolios.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, detail)
}

// UpdatePortfolio handles PUT requests to change name, contribution and cadence.
// Assets in the body are ignored; use the asset endpoints instead.
//
// Endpoint: PUT /api/portfolio/{uuid}
// Request Body: PortfolioRequest
// Response: 200 OK with PortfolioDetail
// Error: 400 Bad Request if validation fails
// Error: 404 Not Found if portfolio not found
func (h *PortfolioHandler) UpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.PortfolioRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	in, err := req.ToInput()
	if err != nil {
		respondServiceError(w, err, "")
		return
	}

	detail, err := h.portfolioService.UpdatePortfolio(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), in)
	if err != nil {
		respondServiceError(w, err, "failed to update portfolio")
		return
	}

	response.RespondJSON(w, http.StatusOK, detail)
}

// DeletePortfolio handles DELETE requests. Allocation, ledger and metrics go with it.
//
// Endpoint: DELETE /api/portfolio/{uuid}
// Response: 204 No Content
// Error: 404 Not Found if portfolio not found
func (h *PortfolioHandler) DeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := h.portfolioService.DeletePortfolio(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid")); err != nil {
		respondServiceError(w, err, "failed to delete portfolio")
		return
	}

	response.RespondJSON(w, http.StatusNoContent, nil)
}

// StartTracking handles POST requests that switch contribution tracking on.
// The body is optional; without a start date tracking starts today.
//
// Endpoint: POST /api/portfolio/{uuid}/tracking
// Request Body: StartTrackingRequest (optional)
// Response: 200 OK with PortfolioDetail
// Error: 400 Bad Request if the start date is malformed
// Error: 404 Not Found if portfolio not found
func (h *PortfolioHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	var req request.StartTrackingRequest
	if r.ContentLength != 0 {
		var err error
		req, err = parseJSON[request.StartTrackingRequest](r)
		if err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	start, err := req.ToStartDate()
	if err != nil {
		respondServiceError(w, err, "")
		return
	}

	detail, err := h.portfolioService.StartTracking(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), start)
	if err != nil {
		respondServiceError(w, err, "failed to start tracking")
		return
	}

	response.RespondJSON(w, http.StatusOK, detail)
}

// AddAsset handles POST requests to add one ticker to the allocation.
// Existing weights are rescaled so the new one fits.
//
// Endpoint: POST /api/portfolio/{uuid}/assets
// Request Body: AssetRequest
// Response: 201 Created with PortfolioDetail
// Error: 400 Bad Request if the ticker is unknown or the weight is out of range
// Error: 409 Conflict if the ticker is already allocated
func (h *PortfolioHandler) AddAsset(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.AssetRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	detail, err := h.portfolioService.AddAsset(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"),
		model.AssetInput{Ticker: req.Ticker, Weight: req.Weight})
	if err != nil {
		respondServiceError(w, err, "failed to add asset")
		return
	}

	response.RespondJSON(w, http.StatusCreated, detail)
}

// ReplaceAssets handles PUT requests that replace the whole allocation.
// Tickers are validated one by one and reported per item.
//
// Endpoint: PUT /api/portfolio/{uuid}/assets
// Request Body: ReplaceAssetsRequest
// Response: 200 OK with BatchResult
// Error: 422 Unprocessable Entity if no ticker is valid
func (h *PortfolioHandler) ReplaceAssets(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.ReplaceAssetsRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	result, err := h.portfolioService.ReplaceAllAssets(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"),
		request.ToAssetInputs(req.Assets))
	respondBatch(w, result, err, "failed to replace assets")
}

// UpdateAssetWeight handles PUT requests to change one ticker's target weight.
//
// Endpoint: PUT /api/portfolio/{uuid}/assets/{ticker}
// Request Body: UpdateWeightRequest
// Response: 200 OK with PortfolioDetail
// Error: 404 Not Found if the ticker is not allocated
func (h *PortfolioHandler) UpdateAssetWeight(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.UpdateWeightRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	detail, err := h.portfolioService.UpdateAssetWeight(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"),
		tickerParam(r), req.Weight)
	if err != nil {
		respondServiceError(w, err, "failed to update asset weight")
		return
	}

	response.RespondJSON(w, http.StatusOK, detail)
}

// RemoveAsset handles DELETE requests to drop a ticker from the allocation.
// Holdings are untouched; the next rebalancing sells them.
//
// Endpoint: DELETE /api/portfolio/{uuid}/assets/{ticker}
// Response: 200 OK with PortfolioDetail
// Error: 404 Not Found if the ticker is not allocated
func (h *PortfolioHandler) RemoveAsset(w http.ResponseWriter, r *http.Request) {
	detail, err := h.portfolioService.RemoveAsset(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), tickerParam(r))
	if err != nil {
		respondServiceError(w, err, "failed to remove asset")
		return
	}

	response.RespondJSON(w, http.StatusOK, detail)
}

// Holdings returns current positions priced at the latest quote.
//
// Endpoint: GET /api/portfolio/{uuid}/holdings
func (h *PortfolioHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.portfolioService.GetHoldings(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveHoldings.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, holdings)
}

// Drift returns current against target weight per ticker.
//
// Endpoint: GET /api/portfolio/{uuid}/drift
func (h *PortfolioHandler) Drift(w http.ResponseWriter, r *http.Request) {
	drift, err := h.portfolioService.GetDrift(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveHoldings.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, drift)
}

// ClosedPositions returns tickers that were fully sold, with their realized gain.
//
// Endpoint: GET /api/portfolio/{uuid}/closed-positions
func (h *PortfolioHandler) ClosedPositions(w http.ResponseWriter, r *http.Request) {
	closed, err := h.portfolioService.GetClosedPositions(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveHoldings.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, closed)
}

// Metrics returns the cached value and return figures, refreshing them when stale.
//
// Endpoint: GET /api/portfolio/{uuid}/metrics
func (h *PortfolioHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.portfolioService.GetMetrics(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, apperrors.ErrFailedToRetrieveMetrics.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, metrics)
}

// BacktestSeed handles POST requests that snapshot the portfolio as a sealed backtest seed.
//
// Endpoint: POST /api/portfolio/{uuid}/backtest-seed
// Response: 201 Created with SealedBacktestSeed
// Error: 503 Service Unavailable if no sealing key is configured
func (h *PortfolioHandler) BacktestSeed(w http.ResponseWriter, r *http.Request) {
	sealed, err := h.portfolioService.GenerateBacktestSeed(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondServiceError(w, err, "failed to generate backtest seed")
		return
	}

	response.RespondJSON(w, http.StatusCreated, sealed)
}

// OpenBacktestSeed verifies a sealed seed and returns its content.
//
// Endpoint: POST /api/backtest/open
// Request Body: OpenBacktestSeedRequest
// Response: 200 OK with BacktestSeed
// Error: 400 Bad Request if the token is invalid or expired
func (h *PortfolioHandler) OpenBacktestSeed(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.OpenBacktestSeedRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	seed, err := h.portfolioService.OpenBacktestSeed(req.Token)
	if err != nil {
		respondServiceError(w, err, "failed to open backtest seed")
		return
	}

	response.RespondJSON(w, http.StatusOK, seed)
}

func tickerParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
}
