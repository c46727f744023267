// Package apiclient talks to the kyc-service HTTP API on behalf of kycctl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kyc-service: %d %s", e.StatusCode, e.Message)
}

// Is lets callers match a 404 with kyc.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == kyc.ErrNotFound && e.StatusCode == http.StatusNotFound
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends a bearer token issued for the user on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMaxTries bounds the attempts for idempotent calls.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = newBackOff }
}

func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		maxTries: 4,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) userURL(prefix, userID, suffix string) string {
	return c.baseURL + prefix + url.PathEscape(userID) + suffix
}

// FetchStatus implements kyc.StatusSource.
func (c *Client) FetchStatus(ctx context.Context, userID string) (kyc.Status, error) {
	var view struct {
		Status kyc.Status `json:"status"`
	}
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, c.userURL("/api/v1/kyc/", userID, "/status"), nil, &view)
	})
	if err != nil {
		return "", err
	}
	return kyc.ParseStatus(string(view.Status)), nil
}

// SetPresence implements presence.Writer.
func (c *Client) SetPresence(ctx context.Context, userID string, online bool) error {
	body, err := json.Marshal(map[string]bool{"online": online})
	if err != nil {
		return err
	}
	return c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPut, c.userURL("/api/v1/presence/", userID, ""), body, nil)
	})
}

func (c *Client) Latest(ctx context.Context, userID string) (*models.KYCVerification, error) {
	var record models.KYCVerification
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, c.userURL("/api/v1/kyc/", userID, "/latest"), nil, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Submit sends one submission as a multipart form. It is not retried: a
// second attempt would create a second record.
func (c *Client) Submit(ctx context.Context, userID string, details models.PersonalDetails, docs []kyc.StagedDocument) (*models.KYCVerification, error) {
	body, contentType, err := encodeSubmission(details, docs)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.userURL("/api/v1/kyc/", userID, "/submissions"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var record models.KYCVerification
	if err := c.do(req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func encodeSubmission(details models.PersonalDetails, docs []kyc.StagedDocument) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"document_type", details.DocumentType},
		{"document_number", details.DocumentNumber},
		{"full_name", details.FullName},
		{"date_of_birth", details.DateOfBirth},
		{"address", details.Address},
		{"city", details.City},
		{"country", details.Country},
		{"postal_code", details.PostalCode},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for _, d := range docs {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, string(d.Category), d.Document.Name))
		h.Set("Content-Type", d.Document.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(d.Document.Data); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// retry runs op with backoff. Client errors other than 429 are final.
func (c *Client) retry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("retrying request", zap.Duration("wait", wait), zap.Error(err))
		}))
	return err
}

func (c *Client) doJSON(ctx context.Context, method, target string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	c.authorize(req)
	res, err := c.http.Do(req)
	if err != nil {
		return &kyc.NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if res.StatusCode >= 300 {
			return &APIError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if res.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		apiErr := &APIError{StatusCode: res.StatusCode, Message: msg}
		if res.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && secs > 0 {
				return errors.Join(apiErr, backoff.RetryAfter(secs))
			}
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
