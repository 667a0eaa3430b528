package omada

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Token is an OpenAPI access token pair.
type Token struct {
	AccessToken  string    `yaml:"access_token" json:"accessToken"`
	RefreshToken string    `yaml:"refresh_token" json:"refreshToken"`
	ExpiresAt    time.Time `yaml:"expires_at" json:"expiresAt"`
}

// Valid reports whether the token is present and not within a minute of
// expiry. A token with no expiry is assumed valid.
func (t Token) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Add(time.Minute).Before(t.ExpiresAt)
}

type loginResult struct {
	CSRFToken string `json:"csrfToken"`
	SessionID string `json:"sessionId"`
}

type tokenResult struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

// Authorize runs the controller's three-step authorization-code flow with
// the given operator credentials and installs the resulting token. Each step
// is retried on transport failures only; vendor errors fail immediately.
func (c *Client) Authorize(ctx context.Context, username, password string) (Token, error) {
	var login loginResult
	err := c.retry(ctx, request{
		method: http.MethodPost,
		path:   "/openapi/authorize/login",
		query:  url.Values{"client_id": {c.cfg.ClientID}, "omadac_id": {c.cfg.OmadacID}},
		body:   map[string]string{"username": username, "password": password},
	}, &login)
	if err != nil {
		return Token{}, fmt.Errorf("logging in: %w", err)
	}
	if login.CSRFToken == "" || login.SessionID == "" {
		return Token{}, &MalformedResponseError{Path: "/openapi/authorize/login", Err: errors.New("missing csrfToken or sessionId")}
	}

	var code string
	err = c.retry(ctx, request{
		method: http.MethodPost,
		path:   "/openapi/authorize/code",
		query: url.Values{
			"client_id":     {c.cfg.ClientID},
			"omadac_id":     {c.cfg.OmadacID},
			"response_type": {"code"},
		},
		header: http.Header{
			"Csrf-Token": {login.CSRFToken},
			"Cookie":     {"TPOMADA_SESSIONID=" + login.SessionID},
		},
	}, &code)
	if err != nil {
		return Token{}, fmt.Errorf("requesting authorization code: %w", err)
	}

	tok, err := c.exchange(ctx, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	})
	if err != nil {
		return Token{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	c.logger.Info("controller authorized", "omadac_id", c.cfg.OmadacID, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Refresh exchanges the current refresh token for a new token pair and
// installs it.
func (c *Client) Refresh(ctx context.Context) (Token, error) {
	rt := c.Token().RefreshToken
	if rt == "" {
		return Token{}, errors.New("refreshing token: no refresh token")
	}
	tok, err := c.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rt},
	})
	if err != nil {
		return Token{}, fmt.Errorf("refreshing token: %w", err)
	}
	c.logger.Debug("controller token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// EnsureToken refreshes the token when it is missing or about to expire.
// With credentials configured, a missing or rejected refresh token falls
// back to the full authorize flow; transport failures do not.
func (c *Client) EnsureToken(ctx context.Context) error {
	tok := c.Token()
	if tok.Valid(c.now()) {
		return nil
	}
	if tok.RefreshToken != "" {
		_, err := c.Refresh(ctx)
		if err == nil || c.username == "" || IsTransport(err) {
			return err
		}
		c.logger.Warn("token refresh rejected; authorizing again", "error", err)
	} else if c.username == "" {
		return errors.New("no valid access token; run the authorize flow first")
	}
	_, err := c.Authorize(ctx, c.username, c.password)
	return err
}

func (c *Client) exchange(ctx context.Context, query url.Values) (Token, error) {
	var res tokenResult
	err := c.retry(ctx, request{
		method: http.MethodPost,
		path:   "/openapi/authorize/token",
		query:  query,
		body:   map[string]string{"client_id": c.cfg.ClientID, "client_secret": c.cfg.ClientSecret},
	}, &res)
	if err != nil {
		return Token{}, err
	}
	if res.AccessToken == "" {
		return Token{}, &MalformedResponseError{Path: "/openapi/authorize/token", Err: errors.New("missing accessToken")}
	}

	tok := Token{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
	if res.ExpiresIn > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	c.SetToken(tok)
	return tok, nil
}

// retry runs req with the default retry budget. Only transport failures are
// repeated.
func (c *Client) retry(ctx context.Context, req request, out any) error {
	return Retry(ctx, defaultMaxAttempts, func() error {
		err := c.do(ctx, req, out)
		if err != nil && !IsTransport(err) {
			return Permanent(err)
		}
		return err
	})
}
