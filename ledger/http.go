package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/orepool/operator/shared"
)

const defaultPollInterval = 200 * time.Millisecond

type txStatus string

const (
	statusPending   txStatus = "pending"
	statusConfirmed txStatus = "confirmed"
	statusFailed    txStatus = "failed"
)

type referenceResponse struct {
	Reference Reference `json:"reference"`
}

type sendResponse struct {
	ID TxID `json:"id"`
}

type statusResponse struct {
	Status txStatus `json:"status"`
	Code   string   `json:"code,omitempty"`
	Error  string   `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPBackend talks to a ledger gateway over its JSON API.
// Reads are retried at the HTTP layer. Sends never are: whether to resend
// is decided by the Client.
type HTTPBackend struct {
	baseURL      *url.URL
	client       *retryablehttp.Client
	pollInterval time.Duration
}

var _ Backend = (*HTTPBackend)(nil)

type newHTTPBackendOptionFunc func(*HTTPBackend)

func WithPollInterval(interval time.Duration) newHTTPBackendOptionFunc {
	return func(b *HTTPBackend) {
		b.pollInterval = interval
	}
}

func WithHTTPLogger(logger *zap.Logger) newHTTPBackendOptionFunc {
	return func(b *HTTPBackend) {
		b.client.Logger = &leveledLogger{logger.Sugar()}
	}
}

// NewHTTPBackend returns a backend connecting to the gateway at baseUrl.
func NewHTTPBackend(baseUrl string, opts ...newHTTPBackendOptionFunc) (*HTTPBackend, error) {
	baseURL, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "http"
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	b := &HTTPBackend{
		baseURL:      baseURL,
		client:       client,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *HTTPBackend) LatestReference(ctx context.Context) (Reference, error) {
	var res referenceResponse
	if err := b.get(ctx, "/v1/reference", nil, &res); err != nil {
		return Reference{}, fmt.Errorf("getting reference: %w", err)
	}
	return res.Reference, nil
}

func (b *HTTPBackend) Send(ctx context.Context, tx *SignedTransaction) (TxID, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling transaction: %v", ErrMalformed, err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		b.baseURL.JoinPath("/v1/transactions").String(),
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// the embedded client does not retry
	res, err := b.client.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: doing request: %w", ErrUnavailable, err)
	}
	var sent sendResponse
	if err := decode(res, &sent); err != nil {
		return "", err
	}
	return sent.ID, nil
}

// Confirm polls the transaction status until it is final or ctx is done.
func (b *HTTPBackend) Confirm(ctx context.Context, id TxID) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		var status statusResponse
		err := b.get(ctx, "/v1/transactions/"+url.PathEscape(string(id)), nil, &status)
		switch {
		case errors.Is(err, ErrTxNotFound):
			// not seen by the gateway yet
		case err != nil:
			return err
		case status.Status == statusConfirmed:
			return nil
		case status.Status == statusFailed:
			return errorFromCode(status.Code, status.Error)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("awaiting confirmation: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *HTTPBackend) Pool(ctx context.Context, authority shared.PublicKey) (*PoolAccount, error) {
	var pool PoolAccount
	query := url.Values{"authority": []string{authority.String()}}
	if err := b.get(ctx, "/v1/pool", query, &pool); err != nil {
		return nil, fmt.Errorf("getting pool: %w", err)
	}
	return &pool, nil
}

func (b *HTTPBackend) Member(ctx context.Context, member shared.PublicKey) (*MemberAccount, error) {
	var m MemberAccount
	if err := b.get(ctx, "/v1/members/"+member.String(), nil, &m); err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return &m, nil
}

func (b *HTTPBackend) Boost(ctx context.Context, boost shared.PublicKey) (*BoostAccount, error) {
	var acc BoostAccount
	if err := b.get(ctx, "/v1/boosts/"+boost.String(), nil, &acc); err != nil {
		return nil, fmt.Errorf("getting boost: %w", err)
	}
	return &acc, nil
}

func (b *HTTPBackend) get(ctx context.Context, path string, query url.Values, resBody any) error {
	u := b.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: doing request: %w", ErrUnavailable, err)
	}
	return decode(res, resBody)
}

func decode(res *http.Response, resBody any) error {
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %w", ErrUnavailable, err)
	}

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: response status code: %s, body: %s", ErrUnavailable, res.Status, string(data))
	default:
		var e errorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
			return fmt.Errorf("%w: response status code: %s, body: %s", ErrMalformed, res.Status, string(data))
		}
		return fmt.Errorf("%w: %s", errorFromCode(e.Code, e.Message), e.Message)
	}

	if resBody != nil {
		if err := json.Unmarshal(data, resBody); err != nil {
			return fmt.Errorf("%w: decoding response body: %w", ErrUnavailable, err)
		}
	}
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	*zap.SugaredLogger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, keysAndValues...)
}
