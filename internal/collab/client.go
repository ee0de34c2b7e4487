package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// OwnerClient talks to the HTTP surface of the replica that owns a shared
// space. Propagation is best effort: callers log and drop failures, so the
// client does not retry.
type OwnerClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewOwnerClient(baseURL, token string, httpClient *http.Client) *OwnerClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OwnerClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// Propagate pushes one shared-space mutation to the owner.
func (c *OwnerClient) Propagate(ctx context.Context, req taskhub.PropagateRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/propagate", req, nil)
}

// FetchShared pulls the owner's full shared snapshot for reconciliation.
func (c *OwnerClient) FetchShared(ctx context.Context) (taskhub.SharedSnapshot, error) {
	var out taskhub.SharedSnapshot
	err := c.doJSON(ctx, http.MethodGet, "/v1/shared", nil, &out)
	return out, err
}

func (c *OwnerClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payloadBytes) == 0 {
			return nil
		}
		return json.Unmarshal(payloadBytes, out)
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payloadBytes, &errPayload)
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}
