/**
 * @description
 * This package provides a client for the Eposh induction API, the source of the employee
 * records pushed to HikCentral.
 *
 * @dependencies
 * - github.com/hcpvision/induction-sync/internal/domain: Employee page model.
 *
 * @notes
 * - Photos are requested as links (include_base64=false); the worker downloads them.
 */
package eposhclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hcpvision/induction-sync/internal/domain"
)

const defaultPageLimit = 100

// Client is a client for the Eposh induction API.
type Client struct {
	BaseURL    string
	APIKey     string
	AppID      string
	PageLimit  int
	httpClient *http.Client
}

// NewClient creates a new Eposh API client. baseURL is the full employees endpoint.
func NewClient(baseURL, apiKey, appID string, pageLimit int) *Client {
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	return &Client{
		BaseURL:   strings.TrimSpace(baseURL),
		APIKey:    apiKey,
		AppID:     appID,
		PageLimit: pageLimit,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchPage returns one page of employees inducted on date (YYYY-MM-DD).
func (c *Client) FetchPage(ctx context.Context, date string, page int) (*domain.EmployeePage, error) {
	endpoint, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid eposh base URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("induction_date", date)
	query.Set("include_base64", "false")
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(c.PageLimit))
	endpoint.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to Eposh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var employeePage domain.EmployeePage
	if err := json.NewDecoder(resp.Body).Decode(&employeePage); err != nil {
		return nil, fmt.Errorf("failed to decode eposh page %d for %s: %w", page, date, err)
	}
	if employeePage.Data == nil {
		employeePage.Data = []domain.Employee{}
	}
	return &employeePage, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("x-app-id", c.AppID)
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("eposh API error with status %d, but failed to read response body", resp.StatusCode)
	}
	return fmt.Errorf("eposh API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
}
