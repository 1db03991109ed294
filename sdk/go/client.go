package roastlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Roastline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// RoastRequest is the payload for scheduling a roast.
type RoastRequest struct {
	CoffeeName       string  `json:"coffee_name"`
	GreenCoffeeName  string  `json:"green_coffee_name"`
	ScheduledDate    string  `json:"scheduled_date"`
	GreenWeight      float64 `json:"green_weight"`
	TargetRoastLevel string  `json:"target_roast_level"`
	EquipmentID      string  `json:"equipment_id"`
	Notes            string  `json:"notes,omitempty"`
	Priority         string  `json:"priority,omitempty"`
}

// RoastPatch changes only the non-nil fields.
type RoastPatch struct {
	CoffeeName       *string  `json:"coffee_name,omitempty"`
	GreenCoffeeName  *string  `json:"green_coffee_name,omitempty"`
	ScheduledDate    *string  `json:"scheduled_date,omitempty"`
	GreenWeight      *float64 `json:"green_weight,omitempty"`
	TargetRoastLevel *string  `json:"target_roast_level,omitempty"`
	EquipmentID      *string  `json:"equipment_id,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	Priority         *string  `json:"priority,omitempty"`
}

// ScheduledRoast is a persisted schedule entry.
type ScheduledRoast struct {
	ID               string  `json:"id"`
	CoffeeName       string  `json:"coffee_name"`
	GreenCoffeeName  string  `json:"green_coffee_name"`
	ScheduledDate    string  `json:"scheduled_date"`
	GreenWeight      float64 `json:"green_weight"`
	TargetRoastLevel string  `json:"target_roast_level"`
	EquipmentID      string  `json:"equipment_id"`
	Notes            string  `json:"notes,omitempty"`
	Priority         string  `json:"priority"`
	Completed        bool    `json:"completed"`
	CompletedDate    *string `json:"completed_date,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type Inventory struct {
	Roasted []struct {
		Name      string  `json:"name"`
		Quantity  float64 `json:"quantity"`
		RoastDate string  `json:"roast_date"`
		AgeDays   int     `json:"age_days"`
	} `json:"roasted"`
	Green []struct {
		Name     string  `json:"name"`
		Quantity float64 `json:"quantity"`
		Origin   string  `json:"origin,omitempty"`
		Process  string  `json:"process,omitempty"`
	} `json:"green"`
}

// Recommendation is an AI reply; RawText is set when ParseError is true.
type Recommendation struct {
	Recommendation map[string]any `json:"recommendation,omitempty"`
	RawText        string         `json:"raw_text,omitempty"`
	ParseError     bool           `json:"parse_error,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRoast schedules a roast.
func (c *Client) CreateRoast(ctx context.Context, req RoastRequest) (ScheduledRoast, error) {
	var resp ScheduledRoast
	err := c.do(ctx, http.MethodPost, "schedule", req, &resp)
	return resp, err
}

// ListRoasts returns all roasts ordered by scheduled date.
func (c *Client) ListRoasts(ctx context.Context) ([]ScheduledRoast, error) {
	var resp []ScheduledRoast
	err := c.do(ctx, http.MethodGet, "schedule", nil, &resp)
	return resp, err
}

// GetRoast fetches one roast.
func (c *Client) GetRoast(ctx context.Context, id string) (ScheduledRoast, error) {
	var resp ScheduledRoast
	err := c.do(ctx, http.MethodGet, "schedule/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateRoast(ctx context.Context, id string, patch RoastPatch) (ScheduledRoast, error) {
	var resp ScheduledRoast
	err := c.do(ctx, http.MethodPatch, "schedule/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

// CompleteRoast marks a roast done. outcome may be nil.
func (c *Client) CompleteRoast(ctx context.Context, id string, outcome map[string]any) (ScheduledRoast, error) {
	var resp ScheduledRoast
	body := map[string]any{}
	if outcome != nil {
		body["outcome"] = outcome
	}
	err := c.do(ctx, http.MethodPost, "schedule/"+url.PathEscape(id)+"/complete", body, &resp)
	return resp, err
}

func (c *Client) DeleteRoast(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "schedule/"+url.PathEscape(id), nil, nil)
}

// Upcoming lists incomplete roasts due in the window after now. A zero now
// uses server time.
func (c *Client) Upcoming(ctx context.Context, now time.Time) ([]ScheduledRoast, error) {
	var resp []ScheduledRoast
	err := c.do(ctx, http.MethodGet, withNow("schedule/upcoming", now), nil, &resp)
	return resp, err
}

func (c *Client) Overdue(ctx context.Context, now time.Time) ([]ScheduledRoast, error) {
	var resp []ScheduledRoast
	err := c.do(ctx, http.MethodGet, withNow("schedule/overdue", now), nil, &resp)
	return resp, err
}

func (c *Client) Inventory(ctx context.Context) (Inventory, error) {
	var resp Inventory
	err := c.do(ctx, http.MethodGet, "inventory", nil, &resp)
	return resp, err
}

// BrewRecommendation asks for a brew recipe.
func (c *Client) BrewRecommendation(ctx context.Context, coffeeName, brewMethod string, ageDays int) (Recommendation, error) {
	var resp Recommendation
	body := map[string]any{"coffee_name": coffeeName, "brew_method": brewMethod, "age_days": ageDays}
	err := c.do(ctx, http.MethodPost, "ai/brew-recommendation", body, &resp)
	return resp, err
}

func withNow(endpoint string, now time.Time) string {
	if now.IsZero() {
		return endpoint
	}
	return endpoint + "?now=" + url.QueryEscape(now.Format(time.RFC3339))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
