// Package registration talks to the customer registration API. It logs in
// with a username and password and refreshes the bearer token before it expires.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("registration API rejected credentials")

// refreshSkew renews the token this long before its exp claim.
const refreshSkew = 30 * time.Second

// Client registers callers as customers.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Username:   username,
		Password:   password,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

// Register creates customer, logging in again once if the token was rejected.
func (c *Client) Register(ctx context.Context, customer domain.Customer) error {
	err := c.postCustomer(ctx, customer)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.invalidate()
	return c.postCustomer(ctx, customer)
}

// RegisterCaller registers a caller known only by phone number.
func (c *Client) RegisterCaller(ctx context.Context, callerPhone, companyPhone, callSID string) error {
	return c.Register(ctx, domain.Customer{
		Phone:        callerPhone,
		CompanyPhone: companyPhone,
		CallSID:      callSID,
	})
}

func (c *Client) postCustomer(ctx context.Context, customer domain.Customer) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(customer)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/customers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to register customer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("registration API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	logger.Base().Info("Customer registered", zap.String("phone", customer.Phone), zap.String("call_sid", customer.CallSID))
	return nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

// accessToken returns a cached token, logging in when it is missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || c.now().Add(refreshSkew).Before(c.expires)) {
		return c.token, nil
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expires = tokenExpiry(token)
	return token, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": c.Username, "password": c.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("registration login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("registration login returned status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	token := out.AccessToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return "", errors.New("registration login returned no token")
	}
	return token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// issuer checks it, we only need to know when to refresh.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
