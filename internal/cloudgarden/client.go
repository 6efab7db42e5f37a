package cloudgarden

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smarthomesven/duuxbridge/internal/model"
	"github.com/smarthomesven/duuxbridge/internal/rate"
)

const (
	DefaultBaseURL = "https://v5.api.cloudgarden.nl"

	// OAuth client registered for the Duux Gen2 app, and the parent
	// tenant all user tenants hang off.
	ClientID       = "83f34a5fa5faca9023c78980a57a87b41f6972fc4ee45e9c"
	ParentTenantID = 44

	// Generous ceiling; a handful of devices at a 15s cadence stays far
	// below it, but a misconfigured loop cannot hammer the cloud.
	requestsPerMinute = 120
)

var (
	ErrUnauthorized = errors.New("cloudgarden: unauthorized")
	ErrNoToken      = errors.New("cloudgarden: no access token")
)

// TokenProvider hands out the current bearer token. Implemented by the
// session store; returns an error when nobody is logged in.
type TokenProvider interface {
	AccessToken() (string, error)
}

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("cloudgarden api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Duux cloud (cloudgarden) REST API.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenProvider) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: rate.WrapHTTP("cloudgarden", requestsPerMinute,
			&http.Client{Timeout: 15 * time.Second}),
	}
}

// TokenURL is the authorization-code exchange endpoint.
func (c *Client) TokenURL() string {
	return c.baseURL + "/auth/token"
}

// Status fetches one raw status snapshot for a device. Non-numeric fields
// are dropped; absent fields stay absent.
func (c *Client) Status(ctx context.Context, mac string) (model.Status, error) {
	if mac == "" {
		return nil, fmt.Errorf("cloudgarden: device address is required")
	}

	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := c.getJSON(ctx, "/data/"+url.PathEscape(mac)+"/status", &resp); err != nil {
		return nil, err
	}

	status := make(model.Status, len(resp.Data))
	for field, value := range resp.Data {
		switch v := value.(type) {
		case float64:
			status[field] = v
		case bool:
			if v {
				status[field] = 1
			} else {
				status[field] = 0
			}
		}
	}
	return status, nil
}

// SendCommand posts a single command line to a device. No retries; a
// failure is the caller's to handle.
func (c *Client) SendCommand(ctx context.Context, mac, command string) error {
	if mac == "" {
		return fmt.Errorf("cloudgarden: device address is required")
	}
	if command == "" {
		return fmt.Errorf("cloudgarden: command is required")
	}
	commandsSent.Inc()
	err := c.postJSON(ctx, "/sensor/"+url.PathEscape(mac)+"/commands", map[string]string{
		"command": command,
	}, nil)
	if err != nil {
		commandsFailed.Inc()
	}
	return err
}

// Tenant is one account tenant ("home"). The parent Duux tenant has no
// ParentTenantID and carries no user devices.
type Tenant struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	ParentTenantID *int   `json:"parentTenantId"`
}

// Sensor is one device as listed by the cloud during discovery.
type Sensor struct {
	ID          int    `json:"id"`
	DisplayName string `json:"displayName"`
	DeviceID    string `json:"deviceId"`
	Type        string `json:"type"`
	SpaceID     int    `json:"spaceId"`
	Name        string `json:"name"`
}

// Identity is the logged-in account as reported by the cloud.
type Identity struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Tenants lists the account's tenants, parent Duux tenant included.
func (c *Client) Tenants(ctx context.Context) ([]Tenant, error) {
	var resp struct {
		Data []Tenant `json:"data"`
	}
	path := "/tenant/?tenantQueryType=1&issuesOnly=false&sortDescendent=false&skip=0&take=25&returnModel=2"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UserTenants lists only the tenants that can hold user devices.
func (c *Client) UserTenants(ctx context.Context) ([]Tenant, error) {
	tenants, err := c.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	user := tenants[:0]
	for _, t := range tenants {
		if t.ParentTenantID != nil {
			user = append(user, t)
		}
	}
	return user, nil
}

// Sensors lists the devices of one tenant.
func (c *Client) Sensors(ctx context.Context, tenantID int) ([]Sensor, error) {
	var resp struct {
		Data []Sensor `json:"data"`
	}
	path := fmt.Sprintf("/sensor/?tenantId=%d&returnModel=2&skip=0&take=25", tenantID)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Me fetches the account identity for the current token.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var resp struct {
		Data Identity `json:"data"`
	}
	if err := c.getJSON(ctx, "/auth/me", &resp); err != nil {
		return Identity{}, err
	}
	return resp.Data, nil
}

// MeWithToken fetches the account identity with an explicit token. Used
// during code exchange, before the session has committed the new token.
func (c *Client) MeWithToken(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}
	var resp struct {
		Data Identity `json:"data"`
	}
	if err := c.doJSONToken(ctx, http.MethodGet, "/auth/me", nil, &resp, token); err != nil {
		return Identity{}, err
	}
	return resp.Data, nil
}

// RequestLoginCode starts a passwordless PKCE login: the cloud mails the
// user a code (or hits the redirect URI). Only the challenge leaves the
// process; the verifier stays with the session.
func (c *Client) RequestLoginCode(ctx context.Context, email, codeChallenge, redirectURI string) error {
	payload := map[string]any{
		"email":               email,
		"clientId":            ClientID,
		"codeChallenge":       codeChallenge,
		"codeChallengeMethod": "sha256",
		"redirectUri":         redirectURI,
		"tenantId":            ParentTenantID,
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := c.postJSONUnauthenticated(ctx, "/auth/passwordlessLogin/code", payload, &resp); err != nil {
		return err
	}
	if resp.Data != "ok" {
		return fmt.Errorf("cloudgarden: login code request rejected: %q", resp.Data)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out, true)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, payload, out, true)
}

func (c *Client) postJSONUnauthenticated(ctx context.Context, path string, payload, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, payload, out, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any, authenticated bool) error {
	token := ""
	if authenticated {
		if c.tokens == nil {
			return ErrNoToken
		}
		var err error
		token, err = c.tokens.AccessToken()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoToken, err)
		}
	}
	return c.doJSONToken(ctx, method, path, payload, out, token)
}

func (c *Client) doJSONToken(ctx context.Context, method, path string, payload, out any, token string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		unauthorized.Inc()
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
