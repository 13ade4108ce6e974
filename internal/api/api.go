package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subnet-delegation-service/internal/middleware"
	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/service"
	"subnet-delegation-service/internal/transport"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

type WeightsRequest struct {
	Account string               `json:"account"`
	Weights []model.SubnetWeight `json:"weights"`
}

// StakeRequest carries the stake in rao as a decimal string.
type StakeRequest struct {
	Account string  `json:"account"`
	Stake   string  `json:"stake"`
	TxHash  *string `json:"tx_hash"`
}

type SubnetWeightsResponse struct {
	Data []model.SubnetWeight `json:"data"`
}

type AccountWeightsResponse struct {
	Account string               `json:"account"`
	Data    []model.SubnetWeight `json:"data"`
}

type StakeResponse struct {
	Account string  `json:"account,omitempty"`
	Stake   *string `json:"stake"`
}

type DelegateAPIResponse struct {
	Account   string               `json:"account"`
	Stake     *string              `json:"stake"`
	Weights   []model.SubnetWeight `json:"weights"`
	TxHash    *string              `json:"tx_hash"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type DelegatesResponse struct {
	Data []DelegateAPIResponse `json:"data"`
}

type PriceAPIResponse struct {
	Price float64 `json:"price"`
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type ApiServer struct {
	svc         service.WeightService
	price       transport.PriceFeed
	health      HealthChecker
	corsOrigins []string
	logger      *slog.Logger
}

type Option func(*ApiServer)

func WithPriceFeed(price transport.PriceFeed) Option {
	return func(s *ApiServer) { s.price = price }
}

func WithHealthCheck(health HealthChecker) Option {
	return func(s *ApiServer) { s.health = health }
}

func WithCORS(origins []string) Option {
	return func(s *ApiServer) { s.corsOrigins = origins }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *ApiServer) { s.logger = logger }
}

func NewApiServer(svc service.WeightService, opts ...Option) *ApiServer {
	s := &ApiServer{
		svc:    svc,
		logger: middleware.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ApiServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(s.logger))
	router.Use(middleware.MetricsMiddleware)

	router.HandleFunc("/weights", s.handleSubmitWeights).Methods(http.MethodPost)
	router.HandleFunc("/weights/subnets", s.handleGetSubnetWeights).Methods(http.MethodGet)
	router.HandleFunc("/weights/unvoted-stake", s.handleGetStakeWithNoWeights).Methods(http.MethodGet)
	router.HandleFunc("/weights/{account}", s.handleGetDelegateWeights).Methods(http.MethodGet)
	router.HandleFunc("/stake", s.handleRecordStake).Methods(http.MethodPost)
	router.HandleFunc("/stake/{account}", s.handleGetDelegateStake).Methods(http.MethodGet)
	router.HandleFunc("/delegates", s.handleGetDelegates).Methods(http.MethodGet)
	if s.price != nil {
		router.HandleFunc("/price", s.handleGetPrice).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return middleware.CORS(s.corsOrigins)(router)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *ApiServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server started 🚀🚀🚀", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *ApiServer) handleSubmitWeights(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())

	var req WeightsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("Invalid weights request body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	if err := s.svc.SubmitWeights(r.Context(), req.Account, req.Weights); err != nil {
		writeError(w, logger, "Error submitting weights", err)
		return
	}

	logger.Info("Weights submitted", "account", req.Account, "subnets", len(req.Weights))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *ApiServer) handleGetSubnetWeights(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())

	weights, err := s.svc.GetSubnetWeights(r.Context())
	if err != nil {
		writeError(w, logger, "Error fetching subnet weights", err)
		return
	}
	writeJSON(w, http.StatusOK, SubnetWeightsResponse{Data: nonNil(weights)})
}

func (s *ApiServer) handleGetStakeWithNoWeights(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())

	stake, err := s.svc.GetStakeWithNoWeights(r.Context())
	if err != nil {
		writeError(w, logger, "Error fetching unvoted stake", err)
		return
	}
	amount := strconv.FormatUint(stake, 10)
	writeJSON(w, http.StatusOK, StakeResponse{Stake: &amount})
}

func (s *ApiServer) handleGetDelegateWeights(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())
	account := mux.Vars(r)["account"]

	weights, err := s.svc.GetDelegateSubnetWeights(r.Context(), account)
	if err != nil {
		writeError(w, logger, "Error fetching delegate weights", err)
		return
	}
	writeJSON(w, http.StatusOK, AccountWeightsResponse{Account: account, Data: nonNil(weights)})
}

func (s *ApiServer) handleRecordStake(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())

	var req StakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("Invalid stake request body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	stake, err := strconv.ParseUint(strings.TrimSpace(req.Stake), 10, 64)
	if err != nil {
		logger.Warn("Invalid stake amount", "stake", req.Stake, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "stake must be a non-negative integer amount in rao"})
		return
	}

	if err := s.svc.RecordStake(r.Context(), req.Account, stake, req.TxHash); err != nil {
		writeError(w, logger, "Error recording stake", err)
		return
	}

	logger.Info("Stake recorded", "account", req.Account, "stake", stake)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *ApiServer) handleGetDelegateStake(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())
	account := mux.Vars(r)["account"]

	stake, err := s.svc.GetDelegateStake(r.Context(), account)
	if err != nil {
		writeError(w, logger, "Error fetching delegate stake", err)
		return
	}
	writeJSON(w, http.StatusOK, StakeResponse{Account: account, Stake: formatStake(stake)})
}

func (s *ApiServer) handleGetDelegates(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())

	delegations, err := s.svc.GetAllDelegateWeightsAndStakes(r.Context())
	if err != nil {
		writeError(w, logger, "Error fetching delegates", err)
		return
	}

	apiResults := make([]DelegateAPIResponse, 0, len(delegations))
	for _, d := range delegations {
		var weights []model.SubnetWeight
		if d.Weights != nil {
			weights = d.Weights.List()
		}
		apiResults = append(apiResults, DelegateAPIResponse{
			Account:   d.Account,
			Stake:     formatStake(d.Stake),
			Weights:   weights,
			TxHash:    d.TxHash,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, DelegatesResponse{Data: apiResults})
}

func (s *ApiServer) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())

	price, err := s.price.FetchPrice(r.Context())
	if err != nil {
		logger.Error("Error fetching price", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "price unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, PriceAPIResponse{Price: price})
}

func (s *ApiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			middleware.LoggerFromContext(r.Context()).Error("Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeError maps validation failures to 400 and hides everything else
// behind a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		logger.Warn(msg, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error()})
		return
	}
	logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, s int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(s)

	return json.NewEncoder(w).Encode(v)
}

func formatStake(stake *uint64) *string {
	if stake == nil {
		return nil
	}
	s := strconv.FormatUint(*stake, 10)
	return &s
}

func nonNil(weights []model.SubnetWeight) []model.SubnetWeight {
	if weights == nil {
		return []model.SubnetWeight{}
	}
	return weights
}
