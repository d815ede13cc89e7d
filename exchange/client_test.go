// exchange/client_test.go
package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *APIClient {
	return NewAPIClient("test-key", "test-secret", baseURL, 5, 5000, 2400, 1200)
}

func TestSignIsDeterministic(t *testing.T) {
	params := url.Values{}
	params.Set("symbol", "ETHUSDT")
	params.Set("side", "BUY")
	params.Set("timestamp", "1700000000000")
	payload := params.Encode()

	sig1 := Sign("secret", payload)
	sig2 := Sign("secret", payload)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64)

	// A different secret must change the signature.
	assert.NotEqual(t, sig1, Sign("other", payload))
}

func TestSignedRequestCarriesAuth(t *testing.T) {
	var gotKey string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"totalWalletBalance":"1000"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	info, err := client.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000", info.TotalWalletBalance)

	assert.Equal(t, "test-key", gotKey)
	assert.NotEmpty(t, gotQuery.Get("timestamp"))
	assert.Equal(t, "5000", gotQuery.Get("recvWindow"))
	assert.NotEmpty(t, gotQuery.Get("signature"))
}

func TestUnsignedRequestOmitsAuth(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ts, err := client.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts)
	assert.Empty(t, gotKey)
}

func TestRetryOnceOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSecond429IsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	// One initial attempt plus exactly one retry.
	assert.Equal(t, int32(2), calls.Load())
}

func TestBanIsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBanned))

	// Every subsequent call is refused locally without touching the wire.
	err = client.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBanned))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Order would immediately match and take."}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.PlaceOrder(context.Background(), &NewOrderRequest{
		Symbol: "ETHUSDT", Side: Buy, Type: Limit, Price: "2000", Quantity: "0.1",
	})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -2010, apiErr.Code)
}

func TestBudgetsTrackHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "2000")
		w.Header().Set("X-MBX-ORDER-COUNT-1M", "100")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.Ping(context.Background()))

	weight, orders := client.RateLimits()
	assert.Equal(t, int64(2000), weight.Used)
	assert.Equal(t, int64(100), orders.Used)

	// 2000/2400 is above the 80% threshold.
	assert.True(t, client.ShouldBackoff())
}

func TestBudgetsBelowThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "1000")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.Ping(context.Background()))
	assert.False(t, client.ShouldBackoff())
}

func TestBatchPlaceOrdersRejectsOversizedBatch(t *testing.T) {
	client := newTestClient("http://unused")
	reqs := make([]*NewOrderRequest, 6)
	for i := range reqs {
		reqs[i] = &NewOrderRequest{Symbol: "ETHUSDT", Side: Buy, Type: Limit, Price: "1", Quantity: "1"}
	}
	_, err := client.BatchPlaceOrders(context.Background(), reqs)
	require.Error(t, err)
}

func TestBatchPlaceOrdersSurfacesLegErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"ETHUSDT","orderId":1,"clientOrderId":"a","status":"NEW"},{"code":-2010,"msg":"rejected"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	reqs := []*NewOrderRequest{
		{Symbol: "ETHUSDT", Side: Buy, Type: Limit, Price: "1", Quantity: "1", ClientOrderID: "a"},
		{Symbol: "ETHUSDT", Side: Sell, Type: Limit, Price: "2", Quantity: "1", ClientOrderID: "b"},
	}
	_, err := client.BatchPlaceOrders(context.Background(), reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch leg 1")
}

func TestSyncTimeRecordsOffset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.SyncTime(context.Background()))
	// The fixed server time is far in the past, so the offset is strongly negative.
	assert.Less(t, client.timeOffset, int64(0))
}
