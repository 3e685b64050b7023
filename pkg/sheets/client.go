// Package sheets writes value ranges to Google spreadsheets.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SpreadsheetsScope grants read/write access to spreadsheets
const SpreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// ErrCircuitOpen is returned while a spreadsheet's breaker rejects calls after repeated server failures
var ErrCircuitOpen = errors.New("sheets api circuit open")

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Breaker trips after this many consecutive server-side failures
	FailureThreshold uint32
	// How long the breaker stays open before letting a probe through
	OpenTimeout time.Duration
}

// Client talks to the Sheets values API. Each spreadsheet gets its own breaker so one
// failing sheet never blocks writes to the others.
type Client struct {
	http    *httpclient.Client
	baseURL string
	tokens  oauth2.TokenSource
	cfg     Config
	logger  ectologger.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*httpclient.Response]
}

// NewClient builds a client authenticated with a service account JSON key
func NewClient(ctx context.Context, cfg Config, credentials []byte, logger ectologger.Logger) (*Client, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentials, SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load google credentials: %w", err)
	}
	return NewClientWithTokenSource(cfg, creds.TokenSource, logger), nil
}

// NewClientWithTokenSource builds a client with an explicit token source
func NewClientWithTokenSource(cfg Config, tokens oauth2.TokenSource, logger ectologger.Logger) *Client {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	return &Client{
		http: httpclient.NewClient(httpclient.Config{
			Name:    "sheets_api",
			Timeout: cfg.Timeout,
		}, logger),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tokens:   tokens,
		cfg:      cfg,
		logger:   logger,
		breakers: map[string]*gobreaker.CircuitBreaker[*httpclient.Response]{},
	}
}

// breaker returns the breaker for spreadsheetID, creating it on first use
func (c *Client) breaker(spreadsheetID string) *gobreaker.CircuitBreaker[*httpclient.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[spreadsheetID]; ok {
		return cb
	}

	threshold := c.cfg.FailureThreshold
	logger := c.logger
	cb := gobreaker.NewCircuitBreaker[*httpclient.Response](gobreaker.Settings{
		Name:        "sheets-api:" + spreadsheetID,
		MaxRequests: 1,
		Timeout:     c.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// client errors are the caller's problem, not an outage
			return err == nil || (httperror.IsHTTPError(err) && httperror.GetStatusCode(err) < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker":        name,
				"destination_id": spreadsheetID,
				"from":           from.String(),
				"to":             to.String(),
			}).Warn("Sheets circuit breaker changed state")
		},
	})
	c.breakers[spreadsheetID] = cb
	return cb
}

// ReplaceValues clears rng in the spreadsheet and writes rows starting at its top-left cell
func (c *Client) ReplaceValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	ctx, span := tracing.StartSpan(ctx, "SheetsClient.ReplaceValues")
	defer span.End()

	if err := c.Clear(ctx, spreadsheetID, rng); err != nil {
		return err
	}
	return c.Update(ctx, spreadsheetID, rng, rows)
}

// Clear empties every cell in rng
func (c *Client) Clear(ctx context.Context, spreadsheetID, rng string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s:clear", c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	_, err := c.send(ctx, spreadsheetID, http.MethodPost, endpoint, nil, map[string]any{})
	return err
}

type valueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension"`
	Values         [][]any `json:"values"`
}

// Update overwrites rng with rows as raw values
func (c *Client) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s", c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	query := url.Values{"valueInputOption": {"RAW"}}
	_, err := c.send(ctx, spreadsheetID, http.MethodPut, endpoint, query, valueRange{
		Range:          rng,
		MajorDimension: "ROWS",
		Values:         rows,
	})
	return err
}

// send runs one call through the spreadsheet's breaker. Requests that cannot be built are
// permanent failures and never reach the breaker.
func (c *Client) send(ctx context.Context, spreadsheetID, method, endpoint string, query url.Values, body any) (*httpclient.Response, error) {
	req, err := httpclient.NewRequest(ctx, method, endpoint, query, nil, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build sheets request: %w", err))
	}

	resp, err := c.breaker(spreadsheetID).Execute(func() (*httpclient.Response, error) {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain sheets token: %w", err)
		}
		token.SetAuthHeader(req)

		resp, err := c.http.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if !httpclient.IsSuccessStatus(resp.StatusCode) {
			return nil, statusError(resp)
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return resp, err
}

func statusError(resp *httpclient.Response) error {
	snippet := httpclient.Snippet(resp, 200)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return httperror.NewHTTPErrorf(http.StatusNotFound, "spreadsheet or range not found: %s", snippet)
	case http.StatusForbidden:
		return httperror.NewHTTPErrorf(http.StatusForbidden, "permission denied: %s", snippet)
	default:
		return httperror.NewHTTPErrorf(resp.StatusCode, "sheets api returned status %d: %s", resp.StatusCode, snippet)
	}
}
