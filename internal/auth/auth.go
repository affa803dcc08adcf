// Package auth provides Google OAuth session authentication for the ops
// API. Sessions are held in memory; this service runs as a single HTTP
// process and losing sessions on restart just means re-login.
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
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

const (
	stateCookie     = "oauth_state"
	stateTTL        = 5 * time.Minute
	userInfoURL     = "https://www.googleapis.com/oauth2/v2/userinfo"
	cleanupInterval = 5 * time.Minute
)

// googleUser is the profile Google returns for an authenticated user.
type googleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd"`
}

// Session is one authenticated operator session.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager runs the Google OAuth flow and tracks live sessions.
type Manager struct {
	cfg    config.AuthConfig
	oauth  *oauth2.Config
	client *http.Client
	log    *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds the OAuth config from application settings. baseURL is
// the externally reachable server address the callback registers under.
func NewManager(cfg config.AuthConfig, baseURL string) *Manager {
	return &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.New("auth"),
		sessions: make(map[string]*Session),
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin starts the OAuth flow: store a state nonce in a short-lived
// cookie and redirect to Google's consent screen, hinting the allowed
// workspace domain.
func (m *Manager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := m.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
	if m.cfg.AllowedDomain != "" {
		authURL += "&hd=" + url.QueryEscape(m.cfg.AllowedDomain)
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCallback finishes the OAuth flow: verify the state nonce, exchange
// the code, fetch the profile, enforce the domain restriction, and issue a
// session cookie.
func (m *Manager) HandleCallback(w http.ResponseWriter, r *http.Request) {
	fail := func(reason string) {
		http.Redirect(w, r, "/?error="+reason, http.StatusTemporaryRedirect)
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		m.log.Warn("oauth state mismatch")
		fail("invalid_state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		m.log.Warn("oauth callback error", "error", errMsg)
		fail(errMsg)
		return
	}

	token, err := m.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		m.log.Error("oauth code exchange failed", "error", err.Error())
		fail("exchange_failed")
		return
	}

	user, err := m.fetchUser(r.Context(), token.AccessToken)
	if err != nil {
		m.log.Error("oauth userinfo fetch failed", "error", err.Error())
		fail("userinfo_failed")
		return
	}

	if !m.domainAllowed(user.Email) {
		m.log.Warn("login rejected, domain not allowed", "email", logger.RedactEmail(user.Email))
		fail("domain_not_allowed")
		return
	}

	sid, err := randomToken()
	if err != nil {
		fail("session_failed")
		return
	}
	now := time.Now()
	m.mu.Lock()
	m.sessions[sid] = &Session{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Picture:   user.Picture,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(m.cfg.CookieMaxAge) * time.Second),
	}
	m.mu.Unlock()

	m.log.Info("operator logged in", "email", logger.RedactEmail(user.Email))

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   m.cfg.CookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleLogout drops the session and clears the cookie.
func (m *Manager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(m.cfg.CookieName); err == nil {
		m.mu.Lock()
		delete(m.sessions, cookie.Value)
		m.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: m.cfg.CookieName, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleUserInfo reports the current session to the dashboard.
func (m *Manager) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s := m.GetSession(r)
	if s == nil {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"authenticated": true,
		"user": map[string]string{
			"id":      s.UserID,
			"email":   s.Email,
			"name":    s.Name,
			"picture": s.Picture,
		},
	})
}

// GetSession resolves the request's session, expiring it lazily.
func (m *Manager) GetSession(r *http.Request) *Session {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[cookie.Value]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if time.Now().After(s.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, cookie.Value)
		m.mu.Unlock()
		return nil
	}
	return s
}

// IsAuthenticated reports whether the request carries a live session.
func (m *Manager) IsAuthenticated(r *http.Request) bool {
	return m.GetSession(r) != nil
}

// RequireAuth gates a route group behind session auth with a JSON 401.
// Webhook routes carry their own provider auth and are mounted outside
// this middleware.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsAuthenticated(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) domainAllowed(email string) bool {
	if m.cfg.AllowedDomain == "" {
		return true
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.EqualFold(email[at+1:], m.cfg.AllowedDomain)
}

func (m *Manager) fetchUser(ctx context.Context, accessToken string) (*googleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google userinfo error (HTTP %d): %s", resp.StatusCode, body)
	}

	var user googleUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("parse userinfo: %w", err)
	}
	return &user, nil
}

// ValidateCredentials probes Google's token endpoint with a dummy grant at
// boot. Bad codes come back as invalid_grant while revoked or misconfigured
// client credentials come back as invalid_client, so a rotated secret fails
// startup instead of the first login attempt.
func (m *Manager) ValidateCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"validation_probe"},
		"client_id":     {m.oauth.ClientID},
		"client_secret": {m.oauth.ClientSecret},
		"redirect_uri":  {m.oauth.RedirectURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		google.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	s := string(body)
	switch {
	case strings.Contains(s, "invalid_grant"),
		strings.Contains(s, "invalid_request"),
		strings.Contains(s, "redirect_uri_mismatch"):
		// The dummy code was rejected but the client itself was accepted.
		return nil
	case strings.Contains(s, "invalid_client"):
		return fmt.Errorf("google OAuth client credentials rejected; check GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET")
	default:
		return fmt.Errorf("unexpected token endpoint response (HTTP %d): %s", resp.StatusCode, s)
	}
}

// StartCleanup sweeps expired sessions until the context is canceled.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				m.mu.Lock()
				for id, s := range m.sessions {
					if now.After(s.ExpiresAt) {
						delete(m.sessions, id)
					}
				}
				m.mu.Unlock()
			}
		}
	}()
}
