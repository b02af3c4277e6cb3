package deye

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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/joshp123/deyehome/internal/rate"
)

const (
	requestTimeout = 10 * time.Second
	appID          = "a774310e-a430-11e7-9d4c-00163e0c1b21"
	tokenType      = "JWT"
	productType    = "dehumidifier"
)

var (
	// ErrInvalidAuth means the cloud rejected the credentials or token.
	ErrInvalidAuth = errors.New("deye cloud: invalid auth")
	// ErrCannotConnect covers network failures, rate limiting and upstream
	// errors.
	ErrCannotConnect = errors.New("deye cloud: cannot connect")
)

// Device is one entry of the cloud device list.
type Device struct {
	DeviceID    string          `json:"device_id"`
	DeviceName  string          `json:"device_name"`
	MAC         string          `json:"mac"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductType string          `json:"product_type"`
	ProductIcon string          `json:"product_icon"`
	Platform    int             `json:"platform"`
	Online      bool            `json:"online"`
	Payload     json.RawMessage `json:"payload"`
}

// Platforms a device can be reached through.
const (
	PlatformClassic = 1
	PlatformFog     = 2
)

// InitialState decodes the payload from the device list. The payload is not
// always a valid string; those devices start from DefaultPayload.
func (d Device) InitialState() DeviceState {
	var payload string
	if err := json.Unmarshal(d.Payload, &payload); err == nil && payload != "" {
		if state, err := ParseHex(payload); err == nil {
			return state
		}
	}
	return DefaultState()
}

// MQTTInfo holds the classic platform broker credentials.
type MQTTInfo struct {
	Host      string `json:"mqtthost"`
	SSLPort   int    `json:"sslport"`
	LoginName string `json:"loginname"`
	Password  string `json:"password"`
	Endpoint  string `json:"endpoint"`
	ClientID  string `json:"clientid"`
}

type envelope struct {
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Meta codes that mean the token is no longer accepted.
var tokenRejectedCodes = map[int]bool{
	40001: true,
	40002: true,
}

// CloudClient talks to the Deye cloud API.
type CloudClient struct {
	baseURL  string
	username string
	password string

	plain  *http.Client
	authed *http.Client
	tokens *tokenSource

	mu      sync.Mutex
	userID  string
	onToken func(string)
}

// CloudOptions configures a CloudClient.
type CloudOptions struct {
	BaseURL           string
	Username          string
	Password          string
	AuthToken         string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

func NewCloudClient(opts CloudOptions) (*CloudClient, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("deye base_url is required")
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: requestTimeout}
	}
	decl := rate.Provider("deye").ReadHeaders(rate.StandardHeaders())
	if opts.RequestsPerMinute > 0 {
		decl = decl.MaxRequestsPer(rate.Minute, opts.RequestsPerMinute)
	}
	plain := rate.WrapHTTP(decl, base)

	c := &CloudClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		plain:    plain,
	}
	c.tokens = newTokenSource(c, opts.AuthToken)

	authed := *plain
	authed.Transport = &oauth2.Transport{Source: c.tokens, Base: plain.Transport}
	c.authed = &authed
	return c, nil
}

// OnTokenRefreshed registers fn to receive every newly issued token.
func (c *CloudClient) OnTokenRefreshed(fn func(token string)) {
	c.mu.Lock()
	c.onToken = fn
	c.mu.Unlock()
}

// Authenticate logs in and caches the token.
func (c *CloudClient) Authenticate(ctx context.Context) error {
	tok, err := c.login(ctx)
	if err != nil {
		return err
	}
	c.tokens.set(tok)
	return nil
}

// AuthToken returns the cached token, if any.
func (c *CloudClient) AuthToken() string {
	return c.tokens.current()
}

// UserID is the cloud user id taken from the token claims.
func (c *CloudClient) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *CloudClient) login(ctx context.Context) (*oauth2.Token, error) {
	body := map[string]string{
		"pushtype":  "Ali",
		"loginname": c.username,
		"password":  c.password,
		"appid":     appID,
		"extend":    `{"cid":"","type":"1"}`,
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, c.plain, http.MethodPost, "/login/", body, &data); err != nil {
		if errors.Is(err, errTokenRejected) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		return nil, err
	}
	tok, userID, err := parseToken(data.Token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.userID = userID
	onToken := c.onToken
	c.mu.Unlock()
	if onToken != nil {
		onToken(tok.AccessToken)
	}
	return tok, nil
}

// deyeClaims are the claims the cloud puts in its tokens.
type deyeClaims struct {
	EndUserID string `json:"enduserid"`
	jwt.RegisteredClaims
}

// parseToken reads the user id and expiry from a token without verifying its
// signature; the cloud is the only party that checks it.
func parseToken(raw string) (*oauth2.Token, string, error) {
	if raw == "" {
		return nil, "", fmt.Errorf("%w: empty token", ErrInvalidAuth)
	}
	claims := &deyeClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, "", fmt.Errorf("%w: parse token: %v", ErrInvalidAuth, err)
	}
	tok := &oauth2.Token{AccessToken: raw, TokenType: tokenType}
	if claims.ExpiresAt != nil {
		tok.Expiry = claims.ExpiresAt.Time
	}
	userID := claims.EndUserID
	if userID == "" {
		userID = claims.Subject
	}
	return tok, userID, nil
}

// DeviceList returns the account's dehumidifiers.
func (c *CloudClient) DeviceList(ctx context.Context) ([]Device, error) {
	var all []Device
	if err := c.authedDo(ctx, http.MethodGet, "/deviceList/?app=new", nil, &all); err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(all))
	for _, d := range all {
		if d.ProductType == productType {
			out = append(out, d)
		}
	}
	return out, nil
}

// MQTTInfo returns the broker credentials for classic devices.
func (c *CloudClient) MQTTInfo(ctx context.Context) (MQTTInfo, error) {
	var info MQTTInfo
	if err := c.authedDo(ctx, http.MethodGet, "/mqttInfo/", nil, &info); err != nil {
		return MQTTInfo{}, err
	}
	return info, nil
}

// FogProperties reads the properties of a fog platform device.
func (c *CloudClient) FogProperties(ctx context.Context, deviceID string) (map[string]any, error) {
	props := map[string]any{}
	path := "/fog/devices/" + url.PathEscape(deviceID) + "/properties/"
	if err := c.authedDo(ctx, http.MethodGet, path, nil, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// SetFogProperties writes properties to a fog platform device.
func (c *CloudClient) SetFogProperties(ctx context.Context, deviceID string, props map[string]any) error {
	path := "/fog/devices/" + url.PathEscape(deviceID) + "/properties/"
	return c.authedDo(ctx, http.MethodPost, path, props, nil)
}

var errTokenRejected = errors.New("token rejected")

// authedDo runs an authenticated request and retries once with a fresh login
// when the token is rejected.
func (c *CloudClient) authedDo(ctx context.Context, method, path string, body, dest any) error {
	err := c.do(ctx, c.authed, method, path, body, dest)
	if !errors.Is(err, errTokenRejected) {
		return err
	}
	c.tokens.reset()
	err = c.do(ctx, c.authed, method, path, body, dest)
	if errors.Is(err, errTokenRejected) {
		return fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	return err
}

func (c *CloudClient) do(ctx context.Context, client *http.Client, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) || errors.Is(err, ErrInvalidAuth) {
			return fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrCannotConnect, method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrCannotConnect, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s %s: status %d", errTokenRejected, method, path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrCannotConnect, method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCannotConnect, path, err)
	}
	if env.Meta.Code != 0 {
		if tokenRejectedCodes[env.Meta.Code] || path == "/login/" {
			return fmt.Errorf("%w: %s: %d %s", errTokenRejected, path, env.Meta.Code, env.Meta.Message)
		}
		return fmt.Errorf("%w: %s: %d %s", ErrCannotConnect, path, env.Meta.Code, env.Meta.Message)
	}
	if dest == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", ErrCannotConnect, path, err)
	}
	return nil
}

// tokenSource logs in on demand. Tokens are cached by an
// oauth2.ReuseTokenSource until they expire or the cloud rejects them.
type tokenSource struct {
	client *CloudClient

	mu    sync.Mutex
	reuse oauth2.TokenSource
	last  string
}

func newTokenSource(c *CloudClient, seed string) *tokenSource {
	s := &tokenSource{client: c}
	var initial *oauth2.Token
	if seed != "" {
		if tok, userID, err := parseToken(seed); err == nil {
			initial = tok
			c.userID = userID
			s.last = seed
		}
	}
	s.reuse = oauth2.ReuseTokenSource(initial, loginSource{c})
	return s
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	src := s.reuse
	s.mu.Unlock()
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = tok.AccessToken
	s.mu.Unlock()
	return tok, nil
}

func (s *tokenSource) set(tok *oauth2.Token) {
	s.mu.Lock()
	s.reuse = oauth2.ReuseTokenSource(tok, loginSource{s.client})
	s.last = tok.AccessToken
	s.mu.Unlock()
}

func (s *tokenSource) reset() {
	s.mu.Lock()
	s.reuse = oauth2.ReuseTokenSource(nil, loginSource{s.client})
	s.mu.Unlock()
}

func (s *tokenSource) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type loginSource struct {
	client *CloudClient
}

func (l loginSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return l.client.login(ctx)
}
