package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const stateCookie = "oauthstate"

type (
	ProviderConfig struct {
		GitHubClientID     string
		GitHubClientSecret string
		GitHubRedirectURL  string

		OIDCIssuerURL    string
		OIDCClientID     string
		OIDCClientSecret string
		OIDCRedirectURL  string

		// FrontendURL receives the issued token as ?token=.
		FrontendURL string
	}

	// oidcClaims are the claims read from an OIDC ID token.
	oidcClaims struct {
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Picture           string `json:"picture"`
		Sub               string `json:"sub"`
	}

	// Login runs the OAuth login flow against GitHub or an OIDC provider and
	// hands the frontend a token from Tokens.
	Login struct {
		tokens      *Tokens
		frontendURL string
		oauth       *oauth2.Config
		verifier    *oidc.IDTokenVerifier
		githubAPI   string
	}
)

// NewLogin configures the OIDC provider when its issuer is set, GitHub when
// its credentials are set, and nothing otherwise.
func NewLogin(ctx context.Context, cfg ProviderConfig, tokens *Tokens) *Login {
	l := &Login{
		tokens:      tokens,
		frontendURL: cfg.FrontendURL,
		githubAPI:   "https://api.github.com/user",
	}
	if l.frontendURL == "" {
		l.frontendURL = "/"
	}

	switch {
	case cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "":
		provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
		if err != nil {
			logrus.WithError(err).Error("Failed to create OIDC provider")
			return l
		}
		l.oauth = &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			Endpoint:     provider.Endpoint(),
		}
		l.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})
		logrus.Info("Initializing OIDC authentication provider.")
	case cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "":
		l.oauth = &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}
		logrus.Info("Initializing GitHub authentication provider.")
	default:
		logrus.Warn("No authentication provider configured.")
	}
	return l
}

func (l *Login) Configured() bool {
	return l.oauth != nil
}

func (l *Login) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !l.Configured() {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "Failed to generate login state", http.StatusInternalServerError)
		return
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, l.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (l *Login) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !l.Configured() {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.FormValue("state") {
		logrus.Warn("OAuth callback with missing or mismatched state")
		http.Redirect(w, r, l.frontendURL, http.StatusTemporaryRedirect)
		return
	}

	token, err := l.oauth.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		logrus.Errorf("failed to exchange token: %s", err.Error())
		http.Redirect(w, r, l.frontendURL, http.StatusTemporaryRedirect)
		return
	}

	var user *Identity
	if l.verifier != nil {
		user, err = l.oidcIdentity(r.Context(), token)
	} else {
		user, err = l.githubIdentity(r.Context(), token)
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to resolve identity")
		http.Redirect(w, r, l.frontendURL, http.StatusTemporaryRedirect)
		return
	}

	jwtToken, err := l.tokens.Issue(*user)
	if err != nil {
		logrus.Errorf("failed to create JWT: %s", err.Error())
		http.Redirect(w, r, l.frontendURL, http.StatusTemporaryRedirect)
		return
	}
	logrus.WithField("user_id", user.Subject).Info("User logged in")

	http.Redirect(w, r, l.redirectWithToken(jwtToken), http.StatusTemporaryRedirect)
}

func (l *Login) redirectWithToken(token string) string {
	u, err := url.Parse(l.frontendURL)
	if err != nil {
		return "/?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (l *Login) githubIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	resp, err := l.oauth.Client(ctx, token).Get(l.githubAPI)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from github: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read github response body: %w", err)
	}

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(body, &githubUser); err != nil {
		return nil, fmt.Errorf("failed to unmarshal github user: %w", err)
	}
	if githubUser.ID == 0 {
		return nil, fmt.Errorf("github returned no user id")
	}

	return &Identity{
		Subject:   fmt.Sprintf("github:%d", githubUser.ID),
		Login:     githubUser.Login,
		AvatarURL: githubUser.AvatarURL,
		Name:      githubUser.Name,
	}, nil
}

func (l *Login) oidcIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}
	idToken, err := l.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims from ID token: %w", err)
	}

	user := &Identity{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	// If preferred_username is not available, use email
	if user.Login == "" && user.Email != "" {
		user.Login = user.Email
	}
	return user, nil
}
