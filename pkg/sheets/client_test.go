package sheets_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Ramsey-B/fern/pkg/sheets"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newClient(url string, threshold uint32) *sheets.Client {
	return sheets.NewClientWithTokenSource(sheets.Config{
		BaseURL:          url,
		Timeout:          time.Second,
		FailureThreshold: threshold,
		OpenTimeout:      time.Minute,
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "sheet-token"}), testLogger())
}

func TestReplaceValues_ClearsThenWrites(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	var written struct {
		Values [][]any `json:"values"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sheet-token", r.Header.Get("Authorization"))
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodPut {
			assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&written))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rows := [][]any{{"date", "warehouse"}, {"2024-05-01", "B"}, {"2024-05-01", "A"}}
	err := newClient(server.URL, 5).ReplaceValues(context.Background(), "sheet-id", "stocks_coefs", rows)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /sheet-id/values/stocks_coefs:clear",
		"PUT /sheet-id/values/stocks_coefs",
	}, calls)
	require.Len(t, written.Values, 3)
	assert.Equal(t, "B", written.Values[1][1])
	assert.Equal(t, "A", written.Values[2][1])
}

func TestReplaceValues_StatusMapping(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		err := newClient(server.URL, 5).ReplaceValues(context.Background(), "sheet-id", "stocks_coefs", nil)
		require.Error(t, err)
		assert.True(t, httperror.IsHTTPError(err))
		assert.Equal(t, status, httperror.GetStatusCode(err))
		server.Close()
	}
}

func TestReplaceValues_BreakerOpensOnServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(server.URL, 2)
	for i := 0; i < 2; i++ {
		err := client.Clear(context.Background(), "sheet-id", "stocks_coefs")
		require.Error(t, err)
		assert.False(t, errors.Is(err, sheets.ErrCircuitOpen))
	}

	err := client.Clear(context.Background(), "sheet-id", "stocks_coefs")
	assert.ErrorIs(t, err, sheets.ErrCircuitOpen)
}

func TestReplaceValues_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newClient(server.URL, 1)
	for i := 0; i < 3; i++ {
		err := client.Clear(context.Background(), "sheet-id", "stocks_coefs")
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	}
}

func TestReplaceValues_BreakerIsPerSpreadsheet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken-sheet/values/stocks_coefs:clear" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newClient(server.URL, 1)
	require.Error(t, client.Clear(context.Background(), "broken-sheet", "stocks_coefs"))
	assert.ErrorIs(t, client.Clear(context.Background(), "broken-sheet", "stocks_coefs"), sheets.ErrCircuitOpen)

	assert.NoError(t, client.Clear(context.Background(), "healthy-sheet", "stocks_coefs"))
}
