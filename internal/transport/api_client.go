package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"fieldsync/internal/models"
	"fieldsync/internal/syncerrors"
)

// RemoteCaller performs one mutation against the remote API. The endpoint is
// opaque; the caller only needs the outcome classified as success, retryable
// failure, non-retryable failure, or conflict.
type RemoteCaller interface {
	Call(ctx context.Context, record *models.MutationRecord) ([]byte, error)
}

// APIClient sends mutations to the backend over HTTP(S) JSON, with multipart
// form encoding for staged file uploads. Every call carries the tenant and
// bearer token captured in the client config.
type APIClient struct {
	client    *http.Client
	baseURL   string
	authToken string
	tenantID  string
	timeout   time.Duration
}

func NewAPIClient(baseURL, authToken, tenantID string, timeout time.Duration) *APIClient {
	return &APIClient{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		tenantID:  tenantID,
		timeout:   timeout,
	}
}

func (c *APIClient) Call(ctx context.Context, record *models.MutationRecord) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var req *http.Request
	var err error
	if record.Operation.Multipart() {
		req, err = c.multipartRequest(ctx, record)
	} else {
		req, err = c.jsonRequest(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}
	// The record id doubles as an idempotency key so a replayed call the
	// server already applied can be deduplicated remotely.
	req.Header.Set("Idempotency-Key", record.ID)

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and unreachable hosts are retryable by definition.
		return nil, &syncerrors.RetryableTransportError{Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &syncerrors.RetryableTransportError{Err: readErr}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, &syncerrors.ConflictError{
			StatusCode: resp.StatusCode,
			Payload:    record.Payload,
			Response:   body,
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &syncerrors.NonRetryableRequestError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	default:
		return nil, &syncerrors.RetryableTransportError{StatusCode: resp.StatusCode}
	}
}

func (c *APIClient) jsonRequest(ctx context.Context, record *models.MutationRecord) (*http.Request, error) {
	var body io.Reader
	if len(record.Payload) > 0 {
		body = bytes.NewReader(record.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, record.Target.Method, c.baseURL+record.Target.Path, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", record.Target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *APIClient) multipartRequest(ctx context.Context, record *models.MutationRecord) (*http.Request, error) {
	var payload models.UploadPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return nil, fmt.Errorf("upload payload of %s: %w", record.ID, syncerrors.ErrNonRetryable)
	}

	staged, err := os.Open(payload.StagedPath)
	if err != nil {
		// The staged binary is gone; retrying cannot bring it back.
		return nil, fmt.Errorf("staged file %s: %w", payload.StagedPath, syncerrors.ErrNonRetryable)
	}
	defer staged.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"job_id":      payload.JobID,
		"file_type":   payload.FileType,
		"description": payload.Description,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("multipart field %s: %w", name, err)
		}
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, payload.FileName))
	if payload.ContentType != "" {
		header.Set("Content-Type", payload.ContentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("multipart file part: %w", err)
	}
	if _, err := io.Copy(part, staged); err != nil {
		return nil, fmt.Errorf("copy staged file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, record.Target.Method, c.baseURL+record.Target.Path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", record.Target, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
