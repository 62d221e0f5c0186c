// Package pms provides the HTTP client for the Quendoo property-management
// API and the tool definitions that expose its operations through the
// broker's tool registry.
//
// Quendoo authenticates with an api_key query parameter. The client holds no
// key of its own: every operation takes the per-request credential resolved
// upstream, so one client instance serves all tenants.
package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the production Quendoo PMS API endpoint.
const DefaultBaseURL = "https://www.platform.quendoo.com/api/pms/v1"

// APIError is a failed Quendoo API response. The body is preserved for
// diagnostics; transports decide how much of it to surface.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quendoo api: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Quendoo PMS API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint, e.g. for a sandbox environment or
// a test server.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs a Quendoo PMS client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do issues one API request. The api key always travels as a query
// parameter; Quendoo does not use header auth.
func (c *Client) do(ctx context.Context, apiKey, method, endpoint string, params url.Values, body any) (map[string]any, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", apiKey)

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+params.Encode(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quendoo request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if len(respBody) == 0 {
		return map[string]any{"status": resp.StatusCode}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, apiKey, endpoint string, params url.Values) (map[string]any, error) {
	return c.do(ctx, apiKey, http.MethodGet, endpoint, params, nil)
}

func (c *Client) post(ctx context.Context, apiKey, endpoint string, body any) (map[string]any, error) {
	return c.do(ctx, apiKey, http.MethodPost, endpoint, nil, body)
}

// GetPropertySettings fetches property settings, optionally filtered to a
// comma-separated list of setting names.
func (c *Client) GetPropertySettings(ctx context.Context, apiKey, apiLng, names string) (map[string]any, error) {
	params := url.Values{}
	if apiLng != "" {
		params.Set("api_lng", apiLng)
	}
	if names != "" {
		params.Set("names", names)
	}
	return c.get(ctx, apiKey, "/Property/getPropertySettings", params)
}

// GetRoomsDetails fetches room type details. roomID zero means all rooms.
func (c *Client) GetRoomsDetails(ctx context.Context, apiKey, apiLng string, roomID int) (map[string]any, error) {
	params := url.Values{}
	if apiLng != "" {
		params.Set("api_lng", apiLng)
	}
	if roomID != 0 {
		params.Set("room_id", strconv.Itoa(roomID))
	}
	return c.get(ctx, apiKey, "/Property/getRoomsDetails", params)
}

// GetAvailability fetches availability for a date range. sysres selects the
// reservation system ("qdo" or "ext").
func (c *Client) GetAvailability(ctx context.Context, apiKey, dateFrom, dateTo, sysres string) (map[string]any, error) {
	params := url.Values{}
	params.Set("date_from", dateFrom)
	params.Set("date_to", dateTo)
	params.Set("sysres", sysres)
	return c.get(ctx, apiKey, "/Availability/getAvailability", params)
}

// UpdateAvailability writes availability values for rooms or external rooms.
func (c *Client) UpdateAvailability(ctx context.Context, apiKey string, values []map[string]any) (map[string]any, error) {
	return c.post(ctx, apiKey, "/Availability/updateAvailability", map[string]any{"values": values})
}

// GetBookings lists all bookings for the property.
func (c *Client) GetBookings(ctx context.Context, apiKey string) (map[string]any, error) {
	return c.get(ctx, apiKey, "/Booking/getBookings", nil)
}

// Guests describes one room's occupancy for an offer request.
type Guests struct {
	Adults         int   `json:"adults" jsonschema_description:"Number of adults in this room"`
	ChildrenByAges []int `json:"children_by_ages" jsonschema_description:"Ages of children (empty array if no children)"`
}

// GetBookingOffers fetches offers for a stay. When bmCode is empty the first
// active booking module configured on the property is used.
func (c *Client) GetBookingOffers(ctx context.Context, apiKey, dateFrom string, nights int, guests []Guests, bmCode, apiLng, currency string) (map[string]any, error) {
	if bmCode == "" {
		detected, err := c.detectBookingModule(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		bmCode = detected
	}

	params := url.Values{}
	params.Set("bm_code", bmCode)
	params.Set("date_from", dateFrom)
	params.Set("nights", strconv.Itoa(nights))
	if apiLng != "" {
		params.Set("api_lng", apiLng)
	}
	if currency != "" {
		params.Set("currency", currency)
	}

	// Quendoo expects guests exploded into indexed query params:
	// guests[0][adults]=2&guests[0][children_by_ages][0]=5
	for roomIdx, room := range guests {
		params.Set(fmt.Sprintf("guests[%d][adults]", roomIdx), strconv.Itoa(room.Adults))
		for childIdx, age := range room.ChildrenByAges {
			params.Set(fmt.Sprintf("guests[%d][children_by_ages][%d]", roomIdx, childIdx), strconv.Itoa(age))
		}
	}

	return c.get(ctx, apiKey, "/Property/getBookingOffers", params)
}

// detectBookingModule returns the code of the property's first active
// booking module.
func (c *Client) detectBookingModule(ctx context.Context, apiKey string) (string, error) {
	settings, err := c.GetPropertySettings(ctx, apiKey, "", "booking_modules")
	if err != nil {
		return "", fmt.Errorf("detect booking module: %w", err)
	}
	data, _ := settings["data"].(map[string]any)
	modules, _ := data["booking_modules"].([]any)
	for _, m := range modules {
		mod, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if active, _ := mod["is_active"].(bool); !active {
			continue
		}
		if code, _ := mod["code"].(string); code != "" {
			return code, nil
		}
	}
	return "", fmt.Errorf("no active booking modules found; configure booking modules in Quendoo")
}

// AckBooking acknowledges a booking revision.
func (c *Client) AckBooking(ctx context.Context, apiKey string, bookingID int, revisionID string) (map[string]any, error) {
	return c.post(ctx, apiKey, "/Booking/ackBooking", map[string]any{
		"booking_id":  bookingID,
		"revision_id": revisionID,
	})
}

// PostRoomAssignment sends a room assignment for a booking revision.
func (c *Client) PostRoomAssignment(ctx context.Context, apiKey string, bookingID int, revisionID string) (map[string]any, error) {
	return c.post(ctx, apiKey, "/Booking/postRoomAssignment", map[string]any{
		"booking_id":  bookingID,
		"revision_id": revisionID,
	})
}

// PostExternalPropertyData sends external property mapping data.
func (c *Client) PostExternalPropertyData(ctx context.Context, apiKey string, data map[string]any) (map[string]any, error) {
	return c.post(ctx, apiKey, "/Property/postExternalPropertyData", data)
}
