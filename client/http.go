package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// HTTPError is returned for non-2xx responses of the REST clients.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Message)
}

// errorBody is the error envelope used by the relay and the thirdweb route.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// restClient performs JSON requests against a single base URL.
type restClient struct {
	httpClient *http.Client
	baseURL    string
	headers    http.Header
	jwtSecret  []byte
}

func newRESTClient(baseURL string, timeout time.Duration) *restClient {
	return &restClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		headers:    http.Header{},
	}
}

// GenerateJWT signs a short lived HS256 bearer token.
func GenerateJWT(secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
	})
	return token.SignedString(secret)
}

// doRequest sends the request and decodes a 2xx body into out. It returns the
// round trip duration alongside any error.
func (c *restClient) doRequest(ctx context.Context, method, path string, in, out any) (time.Duration, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range c.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	if len(c.jwtSecret) > 0 {
		token, err := GenerateJWT(c.jwtSecret)
		if err != nil {
			return 0, fmt.Errorf("failed to generate JWT: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		return duration, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return duration, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return duration, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return duration, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return duration, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return duration, nil
}

func errorMessage(body []byte) string {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(bytes.TrimSpace(body))
}
