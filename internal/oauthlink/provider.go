package oauthlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ProviderConfig holds the client registration and endpoints of the authorization server.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string

	// HTTPClient is used for the token exchange and userinfo calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OAuth2Provider implements Provider with golang.org/x/oauth2.
type OAuth2Provider struct {
	cfg         oauth2.Config
	userInfoURL string
	client      *http.Client
}

var _ Provider = (*OAuth2Provider)(nil)

// NewOAuth2Provider validates cfg and builds the provider.
func NewOAuth2Provider(cfg ProviderConfig) (*OAuth2Provider, error) {
	switch {
	case strings.TrimSpace(cfg.ClientID) == "":
		return nil, errors.New("oauthlink: client id is required")
	case cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "":
		return nil, errors.New("oauthlink: provider endpoints are required")
	case cfg.RedirectURL == "":
		return nil, errors.New("oauthlink: redirect url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuth2Provider{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		client:      client,
	}, nil
}

// AuthCodeURL returns the authorization URL carrying state and the S256 challenge of verifier.
func (p *OAuth2Provider) AuthCodeURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the authorization code for an access token.
func (p *OAuth2Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	return p.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

type userInfoResponse struct {
	Data struct {
		Username string `json:"username"`
	} `json:"data"`
}

// Username fetches the account handle of the token owner.
func (p *OAuth2Provider) Username(ctx context.Context, tok *oauth2.Token) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return "", fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	var body userInfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if body.Data.Username == "" {
		return "", errors.New("userinfo has no username")
	}
	return body.Data.Username, nil
}
