package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hermesResponse = `[{"id":"410f41de235f2db824e562ea7ab2d3d3d4ff048316c61d629c0b93f58584e1af","price":{"price":"41250000000","conf":"12000000","expo":-8,"publish_time":1735689600}}]`

func TestNewPythClient_Defaults(t *testing.T) {
	client := NewPythClient("", "")

	assert.Equal(t, DefaultPriceFeedURL, client.apiURL)
	assert.Equal(t, TAOUSDFeedID, client.feedID)
	assert.Equal(t, 30*time.Second, client.ttl)
}

func TestPythClient_FetchPrice(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/latest_price_feeds", r.URL.Path)
		assert.Equal(t, []string{TAOUSDFeedID}, r.URL.Query()["ids[]"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(hermesResponse))
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := NewPythClient(server.URL+"/", "", WithClock(clock), WithCacheTTL(time.Minute))

	price, err := client.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 412.5, price, 1e-9)

	clock.Advance(30 * time.Second)
	_, err = client.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second call should be served from cache")

	clock.Advance(31 * time.Second)
	_, err = client.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPythClient_FetchPriceErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantErr: "unexpected status code: 500"},
		{name: "empty feed", status: http.StatusOK, body: `[]`, wantErr: "no data"},
		{name: "bad json", status: http.StatusOK, body: `{`, wantErr: "decode price"},
		{name: "bad price", status: http.StatusOK, body: `[{"price":{"price":"abc","expo":-8}}]`, wantErr: "invalid price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewPythClient(server.URL, "")
			_, err := client.FetchPrice(context.Background())

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, client.fetchedAt.IsZero(), "failures must not be cached")
		})
	}
}

func TestPriceResponse_Value(t *testing.T) {
	var p PriceResponse
	p.Price.Price = "123"
	p.Price.Expo = 2

	v, err := p.Value()
	require.NoError(t, err)
	assert.Equal(t, 12300.0, v)
}
