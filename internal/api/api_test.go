package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/service"
	"subnet-delegation-service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ service.WeightService = (*mocks.MockWeightService)(nil)

type stubHealth struct{ err error }

func (h stubHealth) Ping(ctx context.Context) error { return h.err }

func u64(v uint64) *uint64 { return &v }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestNewApiServer(t *testing.T) {
	svc := &mocks.MockWeightService{}
	server := NewApiServer(svc)

	require.NotNil(t, server)
	assert.Equal(t, svc, server.svc)
	assert.NotNil(t, server.logger)
	assert.Nil(t, server.price)
}

func TestSubmitWeights(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantError  string
	}{
		{
			name:       "accepted",
			body:       `{"account":"addr1","weights":[{"subnet":"1","weight":60},{"subnet":"2","weight":40}]}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "validation error",
			body:       `{"account":"addr1","weights":[{"subnet":"1","weight":99}]}`,
			svcErr:     &service.ValidationError{Reason: "total weight must be 100, got 99"},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request: total weight must be 100, got 99",
		},
		{
			name:       "malformed json",
			body:       `{"account":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "persistence error",
			body:       `{"account":"addr1","weights":[{"subnet":"1","weight":100}]}`,
			svcErr:     fmt.Errorf("save weights: %w", errors.New("disk full")),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mocks.MockWeightService{Err: tt.svcErr}
			h := NewApiServer(svc).Handler()

			rr := do(t, h, http.MethodPost, "/weights", tt.body)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			body := decode[map[string]string](t, rr)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, "ok", body["status"])
			assert.Equal(t, "addr1", svc.SubmittedAccount)
			assert.Equal(t, []model.SubnetWeight{{Subnet: "1", Weight: 60}, {Subnet: "2", Weight: 40}}, svc.SubmittedWeights)
		})
	}
}

func TestGetSubnetWeights(t *testing.T) {
	t.Run("returns aggregate", func(t *testing.T) {
		svc := &mocks.MockWeightService{SubnetWeights: []model.SubnetWeight{{Subnet: "B", Weight: 75}, {Subnet: "A", Weight: 25}}}
		rr := do(t, NewApiServer(svc).Handler(), http.MethodGet, "/weights/subnets", "")

		require.Equal(t, http.StatusOK, rr.Code)
		got := decode[SubnetWeightsResponse](t, rr)
		assert.Equal(t, svc.SubnetWeights, got.Data)
	})

	t.Run("empty is a list", func(t *testing.T) {
		rr := do(t, NewApiServer(&mocks.MockWeightService{}).Handler(), http.MethodGet, "/weights/subnets", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
	})

	t.Run("service error", func(t *testing.T) {
		svc := &mocks.MockWeightService{Err: errors.New("database error")}
		rr := do(t, NewApiServer(svc).Handler(), http.MethodGet, "/weights/subnets", "")

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, rr.Body.String())
	})
}

func TestGetStakeWithNoWeights(t *testing.T) {
	svc := &mocks.MockWeightService{UnvotedStake: 18_446_744_073_709_551_615}
	rr := do(t, NewApiServer(svc).Handler(), http.MethodGet, "/weights/unvoted-stake", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"stake":"18446744073709551615"}`, rr.Body.String())
}

func TestGetDelegateWeights(t *testing.T) {
	svc := &mocks.MockWeightService{DelegateWeights: []model.SubnetWeight{}}
	rr := do(t, NewApiServer(svc).Handler(), http.MethodGet, "/weights/unknown", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"account":"unknown","data":[]}`, rr.Body.String())
}

func TestRecordStake(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantStake  uint64
		wantHash   *string
	}{
		{
			name:       "with tx hash",
			body:       `{"account":"addr1","stake":"1500000000","tx_hash":"0xabc"}`,
			wantStatus: http.StatusOK,
			wantStake:  1_500_000_000,
			wantHash:   strPtr("0xabc"),
		},
		{
			name:       "zero stake",
			body:       `{"account":"addr1","stake":"0"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "negative stake",
			body:       `{"account":"addr1","stake":"-1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "fractional stake",
			body:       `{"account":"addr1","stake":"1.5"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "numeric stake is rejected",
			body:       `{"account":"addr1","stake":15}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mocks.MockWeightService{}
			rr := do(t, NewApiServer(svc).Handler(), http.MethodPost, "/stake", tt.body)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Empty(t, svc.RecordedAccount)
				return
			}
			assert.Equal(t, "addr1", svc.RecordedAccount)
			assert.Equal(t, tt.wantStake, svc.RecordedStake)
			assert.Equal(t, tt.wantHash, svc.RecordedTxHash)
		})
	}
}

func TestGetDelegateStake(t *testing.T) {
	t.Run("known account", func(t *testing.T) {
		svc := &mocks.MockWeightService{Stake: u64(42)}
		rr := do(t, NewApiServer(svc).Handler(), http.MethodGet, "/stake/addr1", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"account":"addr1","stake":"42"}`, rr.Body.String())
	})

	t.Run("unknown account", func(t *testing.T) {
		rr := do(t, NewApiServer(&mocks.MockWeightService{}).Handler(), http.MethodGet, "/stake/addr1", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"account":"addr1","stake":null}`, rr.Body.String())
	})
}

func TestGetDelegates(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &mocks.MockWeightService{Delegations: []model.Delegation{
		{Account: "a", Stake: u64(10), Weights: model.Weights{"2": 40, "1": 60}, TxHash: strPtr("0x1"), CreatedAt: created, UpdatedAt: created},
		{Account: "b", CreatedAt: created, UpdatedAt: created},
	}}

	rr := do(t, NewApiServer(svc).Handler(), http.MethodGet, "/delegates", "")

	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[DelegatesResponse](t, rr)
	require.Len(t, got.Data, 2)

	assert.Equal(t, "a", got.Data[0].Account)
	assert.Equal(t, "10", *got.Data[0].Stake)
	assert.Equal(t, []model.SubnetWeight{{Subnet: "1", Weight: 60}, {Subnet: "2", Weight: 40}}, got.Data[0].Weights)
	assert.Equal(t, "0x1", *got.Data[0].TxHash)
	assert.True(t, created.Equal(got.Data[0].CreatedAt))

	assert.Nil(t, got.Data[1].Stake)
	assert.Nil(t, got.Data[1].Weights)
}

func TestGetPrice(t *testing.T) {
	t.Run("price", func(t *testing.T) {
		feed := &mocks.MockPriceFeed{Price: 412.5}
		rr := do(t, NewApiServer(&mocks.MockWeightService{}, WithPriceFeed(feed)).Handler(), http.MethodGet, "/price", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"price":412.5}`, rr.Body.String())
	})

	t.Run("upstream failure", func(t *testing.T) {
		feed := &mocks.MockPriceFeed{Err: errors.New("timeout")}
		rr := do(t, NewApiServer(&mocks.MockWeightService{}, WithPriceFeed(feed)).Handler(), http.MethodGet, "/price", "")

		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		rr := do(t, NewApiServer(&mocks.MockWeightService{}).Handler(), http.MethodGet, "/price", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHealth(t *testing.T) {
	rr := do(t, NewApiServer(&mocks.MockWeightService{}, WithHealthCheck(stubHealth{})).Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, NewApiServer(&mocks.MockWeightService{}, WithHealthCheck(stubHealth{err: errors.New("down")})).Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewApiServer(&mocks.MockWeightService{}).Handler()
	do(t, h, http.MethodGet, "/weights/subnets", "")

	rr := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `subnet_delegation_http_requests_total{method="GET",path="/weights/subnets",status="200"}`)
}

func TestCORSPreflight(t *testing.T) {
	h := NewApiServer(&mocks.MockWeightService{}, WithCORS([]string{"https://app.example"})).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/weights", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()

	err := writeJSON(rr, http.StatusCreated, map[string]string{"k": "v"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"k":"v"}`, rr.Body.String())
}

func strPtr(s string) *string { return &s }
