package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"LendDesk/internal/history"
	"LendDesk/internal/ledger"
	"LendDesk/internal/observability"
	"LendDesk/internal/price"
	"LendDesk/internal/repay"
	"LendDesk/internal/risk"
)

// Deps holds everything the HTTP API serves from.
type Deps struct {
	Chain        ledger.Ledger
	Orchestrator *repay.Orchestrator
	Prices       *price.Cache
	Store        *history.Store // optional
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

// Server is the HTTP/JSON API in front of the repayment client.
type Server struct {
	deps Deps
	http *http.Server
}

// New builds the server listening on addr.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.LivenessHandler)
		r.Get("/readyz", s.deps.Health.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/prices", s.handlePrices)
		r.Get("/positions", s.handlePositions)
		r.Route("/positions/{id}", func(r chi.Router) {
			r.Get("/", s.handlePosition)
			r.Get("/debt", s.handleDebt)
			r.Get("/risk", s.handleRisk)
			r.Post("/repay", s.handleRepay)
			r.Get("/repay/progress", s.handleProgress)
			r.Get("/attempts", s.handleAttempts)
		})
		r.Post("/operations/{hash}/check", s.handleCheckOperation)
	})

	return r
}

// Start runs the server until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.deps.Logger.Info().Msg("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
		s.deps.Metrics.HTTPDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// --- wire types ---

type positionResponse struct {
	ID               string `json:"id"`
	Borrower         string `json:"borrower"`
	CollateralAsset  string `json:"collateral_asset"`
	LoanAsset        string `json:"loan_asset"`
	CollateralAmount string `json:"collateral_amount"`
	Principal        string `json:"principal"`
	InterestRate     int64  `json:"interest_rate"`
	IsActive         bool   `json:"is_active"`
	CreatedAt        string `json:"created_at"`
}

type debtResponse struct {
	Principal       string `json:"principal"`
	AccruedInterest string `json:"accrued_interest"`
	TotalDebt       string `json:"total_debt"`
	AsOf            string `json:"as_of"`
}

type riskResponse struct {
	CollateralizationRatio string `json:"collateralization_ratio"`
	HealthFactor           string `json:"health_factor"`
	LiquidationPrice       string `json:"liquidation_price"`
	PriceDropToLiquidation string `json:"price_drop_to_liquidation"`
	Level                  string `json:"level"`
	DebtFree               bool   `json:"debt_free"`
}

type priceResponse struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	AsOf     string `json:"as_of"`
	Fallback bool   `json:"fallback"`
}

type repayRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount,omitempty"` // omitted = full repayment
}

type repayResponse struct {
	AttemptID        string `json:"attempt_id"`
	TxHash           string `json:"tx_hash"`
	InterestPayment  string `json:"interest_payment"`
	PrincipalPayment string `json:"principal_payment"`
	ProtocolFee      string `json:"protocol_fee"`
	NetAmount        string `json:"net_amount"`
	PositionClosed   bool   `json:"position_closed"`
}

type progressResponse struct {
	State       string `json:"state"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
}

type receiptResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Success     bool   `json:"success"`
}

type attemptResponse struct {
	ID         string `json:"id"`
	PositionID string `json:"position_id"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
	NetAmount  string `json:"net_amount"`
	TxHash     string `json:"tx_hash,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type errorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// --- handlers ---

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	out := make([]priceResponse, 0, len(price.Supported))
	for _, symbol := range price.Symbols() {
		quote, err := s.deps.Prices.Price(r.Context(), symbol)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, priceResponse{
			Symbol:   symbol,
			Price:    quote.Value.String(),
			AsOf:     quote.AsOf.UTC().Format(time.RFC3339),
			Fallback: quote.Fallback,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("borrower")
	if !common.IsHexAddress(raw) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "borrower query parameter must be a hex address",
		})
		return
	}

	positions, err := s.deps.Chain.PositionsByBorrower(r.Context(), common.HexToAddress(raw))
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			ID:               p.ID,
			Borrower:         p.Borrower.Hex(),
			CollateralAsset:  p.CollateralAsset,
			LoanAsset:        p.LoanAsset,
			CollateralAmount: p.CollateralAmount.String(),
			Principal:        p.Principal.String(),
			InterestRate:     p.InterestRate,
			IsActive:         p.IsActive,
			CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Chain.Position(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positionResponse{
		ID:               p.ID,
		Borrower:         p.Borrower.Hex(),
		CollateralAsset:  p.CollateralAsset,
		LoanAsset:        p.LoanAsset,
		CollateralAmount: p.CollateralAmount.String(),
		Principal:        p.Principal.String(),
		InterestRate:     p.InterestRate,
		IsActive:         p.IsActive,
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDebt(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.deps.Chain.DebtSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, debtResponse{
		Principal:       snapshot.Principal.String(),
		AccruedInterest: snapshot.AccruedInterest.String(),
		TotalDebt:       snapshot.TotalDebt.String(),
		AsOf:            snapshot.AsOf.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	pos, err := s.deps.Chain.Position(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	collateral, ok := price.Lookup(pos.CollateralAsset)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "unsupported collateral asset " + pos.CollateralAsset,
		})
		return
	}
	loan, ok := price.Lookup(pos.LoanAsset)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "unsupported loan asset " + pos.LoanAsset,
		})
		return
	}

	snapshot, err := s.deps.Chain.DebtSnapshot(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	collateralQuote, err := s.deps.Prices.Price(ctx, collateral.Symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	loanQuote, err := s.deps.Prices.Price(ctx, loan.Symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	metrics, err := risk.Compute(risk.Input{
		CollateralAmount:   pos.CollateralAmount,
		CollateralPrice:    collateralQuote.Value,
		CollateralDecimals: collateral.Decimals,
		LoanAmount:         snapshot.TotalDebt,
		LoanPrice:          loanQuote.Value,
		LoanDecimals:       loan.Decimals,
		Params:             risk.ParamsFor(pos.CollateralAsset),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RiskComputations.WithLabelValues(metrics.Level.String()).Inc()
	}

	if metrics.DebtFree {
		s.writeJSON(w, http.StatusOK, riskResponse{
			Level:    metrics.Level.String(),
			DebtFree: true,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, riskResponse{
		CollateralizationRatio: metrics.CollateralizationRatio.String(),
		HealthFactor:           metrics.HealthFactor.String(),
		LiquidationPrice:       metrics.LiquidationPrice.String(),
		PriceDropToLiquidation: metrics.PriceDropToLiquidation.String(),
		Level:                  metrics.Level.String(),
		DebtFree:               metrics.DebtFree,
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "malformed request body",
		})
		return
	}
	if !common.IsHexAddress(req.Token) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "token must be a hex address",
		})
		return
	}

	var amount *big.Int
	if req.Amount != "" {
		var ok bool
		amount, ok = new(big.Int).SetString(req.Amount, 10)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{
				Code:   string(repay.CodeValidation),
				Detail: "amount must be a base-10 integer",
			})
			return
		}
	}

	outcome, err := s.deps.Orchestrator.Repay(r.Context(), chi.URLParam(r, "id"), common.HexToAddress(req.Token), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, repayResponse{
		AttemptID:        outcome.AttemptID.String(),
		TxHash:           outcome.Receipt.TxHash.Hex(),
		InterestPayment:  outcome.Plan.InterestPayment.String(),
		PrincipalPayment: outcome.Plan.PrincipalPayment.String(),
		ProtocolFee:      outcome.Plan.ProtocolFee.String(),
		NetAmount:        outcome.Plan.NetAmount.String(),
		PositionClosed:   outcome.Plan.WillClosePosition,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, state, live := s.deps.Orchestrator.Progress(chi.URLParam(r, "id"))
	if !live {
		s.writeJSON(w, http.StatusNotFound, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "no repayment in flight for position",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, progressResponse{
		State:       state.String(),
		CurrentStep: progress.CurrentStep,
		TotalSteps:  progress.TotalSteps,
	})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeJSON(w, http.StatusOK, []attemptResponse{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	attempts, err := s.deps.Store.ListByPosition(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptResponse{
			ID:         a.ID.String(),
			PositionID: a.PositionID,
			Outcome:    a.Outcome,
			Detail:     a.Detail,
			NetAmount:  a.NetAmount,
			TxHash:     a.TxHash,
			StartedAt:  a.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt: a.FinishedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheckOperation(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "hash")
	if len(raw) != 66 || raw[:2] != "0x" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:   string(repay.CodeValidation),
			Detail: "hash must be a 32-byte hex string",
		})
		return
	}
	receipt, err := s.deps.Orchestrator.CheckStatus(r.Context(), common.HexToHash(raw))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receiptResponse{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Success,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Error().Err(err).Msg("encode response")
	}
}

// writeError maps taxonomy tags onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	tagged := repay.AsError(err)
	if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, history.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Code: string(tagged.Code), Detail: tagged.Detail})
		return
	}
	s.writeJSON(w, toStatus(tagged.Code), errorResponse{Code: string(tagged.Code), Detail: tagged.Detail})
}

func toStatus(code repay.Code) int {
	switch code {
	case repay.CodeValidation:
		return http.StatusBadRequest
	case repay.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case repay.CodeUserDeclined:
		return http.StatusForbidden
	case repay.CodeAlreadyInProgress:
		return http.StatusConflict
	case repay.CodeReverted:
		return http.StatusBadGateway
	case repay.CodeConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
