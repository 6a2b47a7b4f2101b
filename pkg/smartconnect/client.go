// Package smartconnect is a small Angel One SmartAPI REST client covering
// login and historical data: session generation, scrip search and daily
// candle download.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if err := sc.GenerateSession(ctx, "CLIENTID", "PASSWORD", totpCode); err != nil { ... }
//	scrips, err := sc.SearchScrip(ctx, "NSE", "SBIN")
//	candles, err := sc.GetCandleData(ctx, smartconnect.CandleParams{
//	    Exchange: "NSE", SymbolToken: "3045", Interval: smartconnect.OneDay,
//	    From: from, To: to,
//	})
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey string

	RootURL    string        // default: https://apiconnect.angelone.in
	Debug      bool          // log request and response bodies
	Timeout    time.Duration // default: 7s
	ProxyURL   string        // optional HTTP proxy URL
	DisableSSL bool          // if true, InsecureSkipVerify
	UserType   string        // default: USER
	SourceID   string        // default: WEB

	ClientPublicIP string // default 106.193.147.98
	ClientLocalIP  string // default: first non-loopback IPv4, else 127.0.0.1
	ClientMAC      string // default from interface MAC
}

// Client is safe for concurrent use once a session has been generated.
type Client struct {
	apiKey  string
	rootURL string
	debug   bool

	httpClient *http.Client

	userType string
	sourceID string

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string
}

const (
	defaultRoot     = "https://apiconnect.angelone.in"
	defaultPublicIP = "106.193.147.98"
	accept          = "application/json"
)

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.search.scrip": "/rest/secure/angelbroking/order/v1/searchScrip",
}

// New initializes the client.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = defaultPublicIP
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.DisableSSL,
		},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &Client{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

// localIP finds the first non-loopback IPv4 address.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Errors ----

// APIError is a well-formed response in which the API reported failure, as
// opposed to a transport or decoding problem.
type APIError struct {
	Status    int    // HTTP status
	ErrorCode string // SmartAPI errorcode, e.g. "AB1004"
	Message   string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("smartapi %s: %s", e.ErrorCode, e.Message)
	}
	return "smartapi: " + e.Message
}

// IsAPIError reports whether err carries an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Error codes for an access token the API no longer accepts.
var tokenExpiredCodes = map[string]bool{
	"AG8001": true, // invalid token
	"AG8002": true, // token expired
	"AB1010": true, // session expired
}

// IsTokenExpired reports whether err says the access token must be renewed.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return tokenExpiredCodes[apiErr.ErrorCode] || apiErr.Status == http.StatusUnauthorized
}

// envelope is the common response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// ---- Helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", accept)
	h.Set("Accept", accept)
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", c.userType)
	h.Set("X-SourceID", c.sourceID)
	if tok := c.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// post sends params as JSON to route and decodes data into out (if non-nil).
func (c *Client) post(ctx context.Context, route string, params any, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("unknown route: %s", route)
	}
	fullURL := c.rootURL + uri

	b, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header = c.requestHeaders()

	if c.debug {
		log.Printf("[smartconnect] request: POST %s body=%s", fullURL, b)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("smartapi %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("smartapi %s: read body: %w", route, err)
	}
	if c.debug {
		log.Printf("[smartconnect] response: code=%d body=%s", resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("smartapi %s: http %d", route, resp.StatusCode)
		}
		return fmt.Errorf("smartapi %s: couldn't parse JSON response: %w", route, err)
	}
	if env.ErrorType != "" || !env.Status {
		msg := env.Message
		if env.ErrorType != "" {
			msg = env.ErrorType + ": " + msg
		}
		return &APIError{Status: resp.StatusCode, ErrorCode: env.ErrorCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("smartapi %s: decode data: %w", route, err)
		}
	}
	return nil
}

// ---- Session ----

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

type tokenSet struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// GenerateSession logs in with client code, password and a current TOTP code
// and stores the returned tokens.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, totp string) error {
	var tok tokenSet
	params := map[string]string{"clientcode": clientCode, "password": password, "totp": totp}
	if err := c.post(ctx, "api.login", params, &tok); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if tok.JWTToken == "" {
		return errors.New("login failed: no jwtToken in response")
	}

	c.mu.Lock()
	c.accessToken = tok.JWTToken
	c.refreshToken = tok.RefreshToken
	c.feedToken = tok.FeedToken
	c.userID = clientCode
	c.mu.Unlock()
	return nil
}

// RenewAccessToken exchanges the refresh token for a new access token.
func (c *Client) RenewAccessToken(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()

	var tok tokenSet
	if err := c.post(ctx, "api.token", map[string]string{"refreshToken": refresh}, &tok); err != nil {
		return err
	}
	c.mu.Lock()
	if tok.JWTToken != "" {
		c.accessToken = tok.JWTToken
	}
	if tok.FeedToken != "" {
		c.feedToken = tok.FeedToken
	}
	c.mu.Unlock()
	return nil
}

// TerminateSession logs out.
func (c *Client) TerminateSession(ctx context.Context) error {
	return c.post(ctx, "api.logout", map[string]string{"clientcode": c.UserID()}, nil)
}

// ---- Market data ----

// Scrip is one SearchScrip match.
type Scrip struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

// SearchScrip finds instruments on exchange matching query.
func (c *Client) SearchScrip(ctx context.Context, exchange, query string) ([]Scrip, error) {
	var out []Scrip
	err := c.post(ctx, "api.search.scrip", map[string]string{"exchange": exchange, "searchscrip": query}, &out)
	return out, err
}

// Interval is a candle size accepted by getCandleData.
type Interval string

const (
	OneMinute Interval = "ONE_MINUTE"
	OneDay    Interval = "ONE_DAY"
)

// CandleParams selects a candle range. From and To are formatted in IST.
type CandleParams struct {
	Exchange    string
	SymbolToken string
	Interval    Interval
	From        time.Time
	To          time.Time
}

// Candle is one OHLCV row. Time carries the exchange offset as returned.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

var ist = time.FixedZone("IST", 5*3600+30*60)

const candleTimeLayout = "2006-01-02 15:04"

// GetCandleData downloads candles for p. Rows come back as
// [timestamp, open, high, low, close, volume].
func (c *Client) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	params := map[string]string{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    string(p.Interval),
		"fromdate":    p.From.In(ist).Format(candleTimeLayout),
		"todate":      p.To.In(ist).Format(candleTimeLayout),
	}
	var rows [][]json.RawMessage
	if err := c.post(ctx, "api.candle.data", params, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		cdl, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("smartapi candle row %d: %w", i, err)
		}
		candles = append(candles, cdl)
	}
	return candles, nil
}

func parseCandle(row []json.RawMessage) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("expected 6 fields, got %d", len(row))
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return Candle{}, fmt.Errorf("timestamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Candle{}, fmt.Errorf("timestamp %q: %w", ts, err)
	}

	var f [5]float64
	for i := range f {
		if err := json.Unmarshal(row[i+1], &f[i]); err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return Candle{Time: t, Open: f[0], High: f[1], Low: f[2], Close: f[3], Volume: int64(f[4])}, nil
}
