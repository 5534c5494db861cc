package garmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/core"
)

const (
	// DefaultDomain is the production Garmin domain. Garmin China uses
	// garmin.cn with the same endpoint layout.
	DefaultDomain = "garmin.com"

	// consumerURL serves the shared OAuth consumer credentials used by
	// every Connect client implementation.
	consumerURL = "https://thegarth.s3.amazonaws.com/oauth_consumer.json"

	userAgent = "com.garmin.android.apps.connectmobile"
)

var (
	csrfRe   = regexp.MustCompile(`name="_csrf"\s+value="([^"]+)"`)
	ticketRe = regexp.MustCompile(`embed\?ticket=([^"]+)"`)
	titleRe  = regexp.MustCompile(`<title>([^<]*)</title>`)
)

// consumerCredentials is the OAuth1 consumer pair used to sign the SSO
// ticket exchange.
type consumerCredentials struct {
	Key    string `json:"consumer_key"`
	Secret string `json:"consumer_secret"`
}

// Client talks to Garmin SSO and the Connect API. It is safe for concurrent
// use; per-login cookie state lives in a fresh jar per exchange.
type Client struct {
	domain string
	httpc  *http.Client
	log    *logrus.Entry

	consumerOnce sync.Once
	consumer     *consumerCredentials
	consumerErr  error
}

// NewClient returns a client for the given Garmin domain ("" means
// garmin.com).
func NewClient(domain string, log *logrus.Logger) *Client {
	if domain == "" {
		domain = DefaultDomain
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		domain: domain,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		log:    log.WithField("component", "garmin"),
	}
}

// WithConsumer overrides the OAuth consumer pair, skipping the network
// fetch. Used when credentials are provisioned via environment.
func (c *Client) WithConsumer(key, secret string) *Client {
	c.consumerOnce.Do(func() {})
	c.consumer = &consumerCredentials{Key: key, Secret: secret}
	return c
}

func (c *Client) loadConsumer(ctx context.Context) (*consumerCredentials, error) {
	c.consumerOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, consumerURL, nil)
		if err != nil {
			c.consumerErr = err
			return
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			c.consumerErr = err
			return
		}
		defer resp.Body.Close()
		var cc consumerCredentials
		if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
			c.consumerErr = err
			return
		}
		c.consumer = &cc
	})
	if c.consumer == nil {
		return nil, fmt.Errorf("load oauth consumer: %w", c.consumerErr)
	}
	return c.consumer, nil
}

// Login performs the SSO credential exchange. The prompt callback is
// invoked at most once, when Garmin asks for an MFA code; returning ""
// lets the exchange fail upstream.
func (c *Client) Login(ctx context.Context, email, password string, prompt func() string) (*Credential, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	sso := &http.Client{Jar: jar, Timeout: 30 * time.Second}

	ssoBase := fmt.Sprintf("https://sso.%s/sso", c.domain)
	embedURL := ssoBase + "/embed"
	signinURL := ssoBase + "/signin"

	signinParams := url.Values{
		"id":                              {"gauth-widget"},
		"embedWidget":                     {"true"},
		"gauthHost":                       {embedURL},
		"service":                         {embedURL},
		"source":                          {embedURL},
		"redirectAfterAccountLoginUrl":    {embedURL},
		"redirectAfterAccountCreationUrl": {embedURL},
	}

	// Prime the SSO cookies, then pull the CSRF token off the signin page.
	if _, err := c.get(ctx, sso, embedURL+"?"+url.Values{"id": {"gauth-widget"}, "embedWidget": {"true"}, "gauthHost": {ssoBase}}.Encode()); err != nil {
		return nil, fmt.Errorf("sso embed: %w", err)
	}
	page, err := c.get(ctx, sso, signinURL+"?"+signinParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("sso signin page: %w", err)
	}
	csrf := firstMatch(csrfRe, page)
	if csrf == "" {
		return nil, errors.New("sso signin page: no CSRF token")
	}

	form := url.Values{
		"username": {email},
		"password": {password},
		"embed":    {"true"},
		"_csrf":    {csrf},
	}
	page, err = c.postForm(ctx, sso, signinURL+"?"+signinParams.Encode(), form, signinURL)
	if err != nil {
		return nil, fmt.Errorf("sso signin: %w", err)
	}

	if strings.Contains(firstMatch(titleRe, page), "MFA") {
		page, err = c.completeMFA(ctx, sso, ssoBase, signinParams, page, prompt)
		if err != nil {
			return nil, err
		}
	}

	title := firstMatch(titleRe, page)
	if title != "" && title != "Success" {
		return nil, fmt.Errorf("sso login rejected: %s", title)
	}
	ticket := firstMatch(ticketRe, page)
	if ticket == "" {
		return nil, errors.New("sso login did not yield a ticket")
	}

	oauth1Token, err := c.fetchOAuth1(ctx, ticket)
	if err != nil {
		return nil, err
	}
	oauth2Token, err := c.Exchange(ctx, oauth1Token)
	if err != nil {
		return nil, err
	}

	c.log.WithField("domain", c.domain).Info("garmin login complete")
	return &Credential{OAuth1: oauth1Token, OAuth2: oauth2Token, Domain: c.domain}, nil
}

// completeMFA asks the caller for the out-of-band code and submits it. The
// prompt blocks until the code arrives or the caller's window elapses.
func (c *Client) completeMFA(ctx context.Context, sso *http.Client, ssoBase string, signinParams url.Values, page string, prompt func() string) (string, error) {
	if prompt == nil {
		return "", errors.New("mfa required but no prompt available")
	}
	c.log.Info("garmin requested an MFA code")
	code := prompt()
	if code == "" {
		return "", errors.New("mfa code was not provided in time")
	}
	csrf := firstMatch(csrfRe, page)
	if csrf == "" {
		return "", errors.New("mfa page: no CSRF token")
	}
	form := url.Values{
		"mfa-code": {code},
		"embed":    {"true"},
		"_csrf":    {csrf},
		"fromPage": {"setupEnterMfaCode"},
	}
	verifyURL := ssoBase + "/verifyMFA/loginEnterMfaCode?" + signinParams.Encode()
	out, err := c.postForm(ctx, sso, verifyURL, form, verifyURL)
	if err != nil {
		return "", fmt.Errorf("mfa verify: %w", err)
	}
	return out, nil
}

// fetchOAuth1 trades the SSO ticket for the long-lived OAuth1 token using
// a consumer-signed preauthorized request.
func (c *Client) fetchOAuth1(ctx context.Context, ticket string) (*OAuth1Token, error) {
	consumer, err := c.loadConsumer(ctx)
	if err != nil {
		return nil, err
	}
	signer := oauth1.NewConfig(consumer.Key, consumer.Secret)
	signed := signer.Client(ctx, oauth1.NewToken("", ""))
	signed.Timeout = 30 * time.Second

	loginURL := fmt.Sprintf("https://sso.%s/sso/embed", c.domain)
	reqURL := fmt.Sprintf(
		"https://connectapi.%s/oauth-service/oauth/preauthorized?ticket=%s&login-url=%s&accepts-mfa-tokens=true",
		c.domain, url.QueryEscape(ticket), url.QueryEscape(loginURL),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := signed.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth preauthorized: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth preauthorized: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("oauth preauthorized: parse response: %w", err)
	}
	t := &OAuth1Token{
		OAuthToken:             vals.Get("oauth_token"),
		OAuthTokenSecret:       vals.Get("oauth_token_secret"),
		MFAToken:               vals.Get("mfa_token"),
		MFAExpirationTimestamp: vals.Get("mfa_expiration_timestamp"),
		Domain:                 c.domain,
	}
	if t.OAuthToken == "" || t.OAuthTokenSecret == "" {
		return nil, errors.New("oauth preauthorized: incomplete token response")
	}
	return t, nil
}

// Exchange trades an OAuth1 token for a fresh OAuth2 access/refresh pair.
// Also used to refresh an expired access token.
func (c *Client) Exchange(ctx context.Context, t *OAuth1Token) (*OAuth2Token, error) {
	consumer, err := c.loadConsumer(ctx)
	if err != nil {
		return nil, err
	}
	signer := oauth1.NewConfig(consumer.Key, consumer.Secret)
	signed := signer.Client(ctx, oauth1.NewToken(t.OAuthToken, t.OAuthTokenSecret))
	signed.Timeout = 30 * time.Second

	data := url.Values{}
	if t.MFAToken != "" {
		data.Set("mfa_token", t.MFAToken)
	}
	exchangeURL := fmt.Sprintf("https://connectapi.%s/oauth-service/oauth/exchange/user/2.0", c.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, exchangeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := signed.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	o2 := &OAuth2Token{}
	if err := json.Unmarshal(body, o2); err != nil {
		return nil, fmt.Errorf("oauth exchange: decode: %w", err)
	}
	now := time.Now().Unix()
	if o2.ExpiresAt == 0 {
		o2.ExpiresAt = now + o2.ExpiresIn
	}
	if o2.RefreshTokenExpiresAt == 0 {
		o2.RefreshTokenExpiresAt = now + o2.RefreshTokenExpiresIn
	}
	return o2, nil
}

// ConnectAPI issues an authenticated GET against connectapi.<domain>,
// re-exchanging an expired access token first. All transport and non-2xx
// failures come back wrapped as upstream errors.
func (c *Client) ConnectAPI(ctx context.Context, cred *Credential, path string, params url.Values) ([]byte, error) {
	if cred == nil || cred.OAuth2 == nil {
		return nil, fmt.Errorf("%w: credential has no access token", core.ErrAuthenticationFailed)
	}
	if cred.OAuth2.Expired() {
		if cred.OAuth1 == nil {
			return nil, fmt.Errorf("%w: access token expired and no refresh path", core.ErrAuthenticationFailed)
		}
		fresh, err := c.Exchange(ctx, cred.OAuth1)
		if err != nil {
			return nil, fmt.Errorf("%w: token refresh: %v", core.ErrUpstream, err)
		}
		cred.OAuth2 = fresh
	}

	domain := cred.Domain
	if domain == "" {
		domain = c.domain
	}
	reqURL := fmt.Sprintf("https://connectapi.%s%s", domain, path)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", cred.OAuth2.AuthorizationHeader())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: connect api status %d", core.ErrAuthenticationFailed, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s status %d", core.ErrUpstream, path, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, hc *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

func (c *Client) postForm(ctx context.Context, hc *http.Client, rawURL string, form url.Values, referer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", referer)
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
