// Package client talks to the gathering service on behalf of one signed-in user
// and feeds the results into a clientstate.Store.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gathering-service/internal/models"
)

// HTTPFetcher implements clientstate.Fetcher over the REST API.
type HTTPFetcher struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPFetcher returns a fetcher for baseURL authenticating with token.
func NewHTTPFetcher(baseURL, token string, httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

func (f *HTTPFetcher) Browse(ctx context.Context, kind models.GatheringType) ([]models.Gathering, error) {
	return f.list(ctx, string(kind))
}

func (f *HTTPFetcher) Mine(ctx context.Context) ([]models.Gathering, error) {
	return f.list(ctx, "myMeetings")
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status    int
	Code      string `json:"code"`
	Message   string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gathering api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (f *HTTPFetcher) list(ctx context.Context, kind string) ([]models.Gathering, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/gatherings?type="+url.QueryEscape(kind), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return nil, apiErr
	}
	var body struct {
		Gatherings []models.Gathering `json:"gatherings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode gatherings: %w", err)
	}
	return body.Gatherings, nil
}
