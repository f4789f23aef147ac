// Package smartconnect is a client for the Angel One SmartAPI REST endpoints
// the scanner needs: password+TOTP login, token refresh, profile and
// historical candle data.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if _, err := sc.GenerateSession(ctx, "CLIENTID", "PIN", totpCode); err != nil {
//	    log.Fatal(err)
//	}
//	candles, err := sc.GetCandleData(ctx, smartconnect.CandleParams{
//	    Exchange: "NSE", SymbolToken: "2885", Interval: smartconnect.FiveMinute,
//	    From: time.Now().AddDate(0, 0, -10), To: time.Now(),
//	})
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

var (
	// ErrLoginFailed is returned when the login endpoint answers status=false.
	ErrLoginFailed = errors.New("smartconnect: login failed")
	// ErrTokenExpired is returned for 403 TokenException responses.
	ErrTokenExpired = errors.New("smartconnect: session token expired")
)

// APIError is an error reported by the API body (error_type or status=false).
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("smartconnect: %s: %s (http %d)", e.ErrorCode, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("smartconnect: %s (http %d)", e.Message, e.StatusCode)
}

// ---- Config & client ----

type Config struct {
	APIKey       string
	AccessToken  string
	RefreshToken string

	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	Accept         string        // default: application/json
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default 106.193.147.98
	ClientLocalIP  string        // default resolved, else 127.0.0.1
	ClientMAC      string        // default from interface MAC

	// RequestsPerSec throttles every request (default 1, matching the
	// historical API's per-second quota). Burst is always 1.
	RequestsPerSec float64
	// MaxRetryElapsed bounds retries of transport errors, 429 and 5xx
	// responses (default 30s). Zero-or-negative disables retries.
	MaxRetryElapsed time.Duration
}

type SmartConnect struct {
	apiKey string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string

	rootURL string
	timeout time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetry   time.Duration

	// header fields
	accept   string
	userType string
	sourceID string

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	log *slog.Logger

	// Optional callback for 403 TokenException
	SessionExpiryHook func()
}

const (
	defaultRoot     = "https://apiconnect.angelone.in"
	defaultPublicIP = "106.193.147.98"
)

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",
	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// GetLocalIP finds your local IP address
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, address := range addrs {
		// Check if it's an IP address and not a loopback
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local IP found")
}

// New initializes the client. It makes no network calls.
func New(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 1
	}
	if cfg.MaxRetryElapsed == 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}
	if cfg.ClientLocalIP == "" {
		ip, err := GetLocalIP()
		if err != nil {
			slog.Warn("smartconnect: local ip lookup failed", "error", err)
		}
		cfg.ClientLocalIP = firstNonEmpty(ip, "127.0.0.1")
	}
	cfg.ClientPublicIP = firstNonEmpty(cfg.ClientPublicIP, defaultPublicIP)
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = getMACFallback()
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		timeout:        cfg.Timeout,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		maxRetry:       cfg.MaxRetryElapsed,
		accept:         cfg.Accept,
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
		log:            slog.With("component", "smartconnect"),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getMACFallback() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", sc.accept)
	h.Set("Accept", sc.accept)
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", sc.userType)
	h.Set("X-SourceID", sc.sourceID)
	if tok := sc.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

func (sc *SmartConnect) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return sc.rootURL + uri, nil
}

// envelope is the common SmartAPI response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// retryableStatus marks responses worth another attempt.
type retryableStatus struct{ code int }

func (e *retryableStatus) Error() string {
	return "smartconnect: retryable status " + http.StatusText(e.code)
}

// doRequest waits on the limiter, sends the request and decodes the envelope.
// Transport errors, 429 and 5xx are retried with exponential backoff; API
// errors are returned as *APIError without retry.
func (sc *SmartConnect) doRequest(ctx context.Context, method, route string, params any) (*envelope, error) {
	fullURL, err := sc.buildURL(route)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if method == http.MethodGet {
		if m, ok := params.(map[string]any); ok && len(m) > 0 {
			q := url.Values{}
			for k, v := range m {
				q.Set(k, fmt.Sprint(v))
			}
			fullURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		if payload, err = json.Marshal(params); err != nil {
			return nil, fmt.Errorf("encode %s params: %w", route, err)
		}
	}

	var env *envelope
	operation := func() error {
		if err := sc.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header = sc.requestHeaders()

		resp, err := sc.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			sc.log.Warn("http error", "route", route, "error", err)
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &retryableStatus{code: resp.StatusCode}
		}

		var out envelope
		if err := json.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("couldn't parse %s response (http %d): %w", route, resp.StatusCode, err))
		}
		if out.ErrorType != "" {
			if resp.StatusCode == http.StatusForbidden && out.ErrorType == "TokenException" {
				if sc.SessionExpiryHook != nil {
					sc.SessionExpiryHook()
				}
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrTokenExpired, out.Message))
			}
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, ErrorCode: out.ErrorType, Message: out.Message})
		}
		if !out.Status {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, ErrorCode: out.ErrorCode, Message: out.Message})
		}
		env = &out
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if sc.maxRetry > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = sc.maxRetry
		b = eb
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return env, nil
}

// ---- Setters/Getters ----

func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

func (sc *SmartConnect) setTokens(jwt, refresh string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if jwt != "" {
		sc.accessToken = jwt
	}
	if refresh != "" {
		sc.refreshToken = refresh
	}
}

// ---- API Methods ----

// Profile is the subset of getProfile the scanner logs.
type Profile struct {
	ClientCode string   `json:"clientcode"`
	Name       string   `json:"name"`
	Exchanges  []string `json:"exchanges"`
}

type tokenSet struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
}

// GenerateSession logs in with client code, PIN and a TOTP code, stores the
// issued tokens and returns the user profile.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (*Profile, error) {
	params := map[string]any{"clientcode": clientCode, "password": password, "totp": totp}
	env, err := sc.doRequest(ctx, http.MethodPost, "api.login", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %s", ErrLoginFailed, apiErr.Message)
		}
		return nil, err
	}

	var ts tokenSet
	if err := json.Unmarshal(env.Data, &ts); err != nil || ts.JWTToken == "" {
		return nil, fmt.Errorf("%w: unexpected login response format", ErrLoginFailed)
	}
	sc.setTokens(ts.JWTToken, ts.RefreshToken)

	return sc.GetProfile(ctx, ts.RefreshToken)
}

// TerminateSession logs the client out.
func (sc *SmartConnect) TerminateSession(ctx context.Context, clientCode string) error {
	_, err := sc.doRequest(ctx, http.MethodPost, "api.logout", map[string]any{"clientcode": clientCode})
	return err
}

// GenerateToken renews the access token from the refresh token.
func (sc *SmartConnect) GenerateToken(ctx context.Context) error {
	sc.mu.RLock()
	refresh := sc.refreshToken
	sc.mu.RUnlock()

	env, err := sc.doRequest(ctx, http.MethodPost, "api.token", map[string]any{"refreshToken": refresh})
	if err != nil {
		return err
	}
	var ts tokenSet
	if err := json.Unmarshal(env.Data, &ts); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	sc.setTokens(ts.JWTToken, ts.RefreshToken)
	return nil
}

// GetProfile returns the logged-in user's profile.
func (sc *SmartConnect) GetProfile(ctx context.Context, refreshToken string) (*Profile, error) {
	env, err := sc.doRequest(ctx, http.MethodGet, "api.user.profile", map[string]any{"refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}
