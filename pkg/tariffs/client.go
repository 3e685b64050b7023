package tariffs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrInvalidDate is returned when a date is not in YYYY-MM-DD form
	ErrInvalidDate = errors.New("invalid date")
	// ErrMissingToken is returned when the client is built without an API token
	ErrMissingToken = errors.New("tariff api token is required")
	// ErrUnexpectedShape is returned when the response body has no entries array at the configured path
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

// FetchError is the final failure of a fetch after all attempts
type FetchError struct {
	Date       string
	Attempts   int
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch tariffs for %s failed after %d attempt(s) (status %d): %v", e.Date, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch tariffs for %s failed after %d attempt(s): %v", e.Date, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config configures the remote tariff client
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	// EntriesPath is a JMESPath expression selecting the entries array
	EntriesPath string
}

// Fetcher fetches the raw tariff entries for a date
type Fetcher interface {
	Fetch(ctx context.Context, date string) ([]models.RawTariffEntry, error)
}

// Client fetches box tariffs from the remote API
type Client struct {
	http    *httpclient.Client
	baseURL string
	token   string
	entries *jmespath.JMESPath
	policy  retry.Policy
	logger  ectologger.Logger
}

// NewClient validates the configuration and compiles the entries expression
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid tariff api url %q: %w", cfg.BaseURL, err)
	}
	if cfg.EntriesPath == "" {
		cfg.EntriesPath = "response.data.warehouseList"
	}
	compiled, err := jmespath.Compile(cfg.EntriesPath)
	if err != nil {
		return nil, fmt.Errorf("invalid entries path %q: %w", cfg.EntriesPath, err)
	}

	c := &Client{
		http: httpclient.NewClient(httpclient.Config{
			Name:    "tariff_api",
			Timeout: cfg.Timeout,
		}, logger),
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		entries: compiled,
		logger:  logger,
	}
	c.policy = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       retry.Linear(cfg.RetryDelay),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			metrics.RecordRetry("tariff_fetch")
			c.logger.WithError(err).WithFields(map[string]any{
				"attempt": attempt,
				"wait":    wait.String(),
			}).Warn("Tariff fetch attempt failed, retrying")
		},
	}
	return c, nil
}

// ParseDate strictly parses a YYYY-MM-DD calendar day
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, date)
	if err != nil || t.Format(models.DateLayout) != date {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidDate, date)
	}
	return t, nil
}

// Fetch returns the raw entries for date. The date is validated before any request is made.
func (c *Client) Fetch(ctx context.Context, date string) ([]models.RawTariffEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "TariffClient.Fetch")
	defer span.End()

	if _, err := ParseDate(date); err != nil {
		return nil, err
	}

	entries, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) ([]models.RawTariffEntry, error) {
		return c.fetchOnce(ctx, date)
	})
	if err != nil {
		fetchErr := &FetchError{Date: date, Attempts: attempts, Err: err}
		if httperror.IsHTTPError(err) {
			fetchErr.StatusCode = httperror.GetStatusCode(err)
		}
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"date":        date,
			"attempts":    attempts,
			"status_code": fetchErr.StatusCode,
		}).Error("Failed to fetch tariffs")
		return nil, fetchErr
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"date":     date,
		"entries":  len(entries),
		"attempts": attempts,
	}).Info("Fetched tariffs")

	return entries, nil
}

func (c *Client) fetchOnce(ctx context.Context, date string) ([]models.RawTariffEntry, error) {
	req, err := httpclient.NewRequest(ctx, http.MethodGet, c.baseURL, url.Values{"date": {date}},
		map[string]string{"Authorization": "Bearer " + c.token}, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, httperror.NewHTTPErrorf(resp.StatusCode, "tariff api returned status %d: %s",
			resp.StatusCode, httpclient.Snippet(resp, 200))
	}

	return c.extract(resp)
}

func (c *Client) extract(resp *httpclient.Response) ([]models.RawTariffEntry, error) {
	var body any
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	found, err := c.entries.Search(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	list, ok := found.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: no entries array in response", ErrUnexpectedShape)
	}

	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	entries := make([]models.RawTariffEntry, 0, len(list))
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	return entries, nil
}
