package tariffs_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/tariffs"
)

const samplePayload = `{
  "response": {
    "data": {
      "dtNextBox": "2024-05-02",
      "warehouseList": [
        {"warehouseName": "Коледино", "geoName": "Центральный федеральный округ",
         "boxDeliveryBase": "46", "boxDeliveryLiter": "11,2", "boxDeliveryCoefExpr": "160",
         "boxStorageBase": "0,14", "boxStorageLiter": "0,07", "boxStorageCoefExpr": "-"},
        {"warehouseName": "Тула", "geoName": "", "boxDeliveryCoefExpr": 120}
      ]
    }
  }
}`

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newClient(t *testing.T, url string, attempts int) *tariffs.Client {
	t.Helper()
	client, err := tariffs.NewClient(tariffs.Config{
		BaseURL:     url,
		Token:       "token",
		Timeout:     time.Second,
		MaxAttempts: attempts,
		RetryDelay:  time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	return client
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-05-01", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer server.Close()

	entries, err := newClient(t, server.URL, 1).Fetch(context.Background(), "2024-05-01")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Коледино", string(entries[0].WarehouseName))
	assert.Equal(t, "-", string(entries[0].BoxStorageCoefExpr))
	assert.Equal(t, "120", string(entries[1].BoxDeliveryCoefExpr))
}

func TestFetch_InvalidDateMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	for _, date := range []string{"", "2024-5-1", "01.05.2024", "2024-02-30"} {
		_, err := newClient(t, server.URL, 3).Fetch(context.Background(), date)
		assert.ErrorIs(t, err, tariffs.ErrInvalidDate, date)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer server.Close()

	entries, err := newClient(t, server.URL, 3).Fetch(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ExhaustedAttemptsCarryStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, 3).Fetch(context.Background(), "2024-05-01")
	require.Error(t, err)

	var fetchErr *tariffs.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_MissingShapeFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":{"data":{}}}`))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, 2).Fetch(context.Background(), "2024-05-01")
	assert.ErrorIs(t, err, tariffs.ErrUnexpectedShape)
}

func TestFetch_EmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":{"data":{"warehouseList":[]}}}`))
	}))
	defer server.Close()

	entries, err := newClient(t, server.URL, 1).Fetch(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := tariffs.NewClient(tariffs.Config{BaseURL: "http://localhost"}, testLogger())
	assert.ErrorIs(t, err, tariffs.ErrMissingToken)
}
