// Package session identifies browser sessions with a signed cookie and maps
// each one to the namespace its uploads, index and history live under.
//
// The cookie carries an HS256 token whose "sid" claim is a random 16-byte
// hex string. The signing secret is generated per process, so every session
// becomes unreachable when the server restarts.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "docqa_session"

	// SharedNamespace is the namespace every request maps to in shared mode.
	SharedNamespace = "shared"

	claimSessionID = "sid"
	tokenBytes     = 16
)

// ErrEntropy is returned when the system random source fails.
var ErrEntropy = errors.New("session: failed to generate session token")

// Session is the resolved identity of one request.
type Session struct {
	// Token is the 32-character hex session identifier.
	Token string
	// Namespace keys all per-session state. Equal to Token in per-session
	// mode, SharedNamespace otherwise.
	Namespace string
	// New reports whether the token was issued by this request.
	New bool
}

// Config configures a Manager.
type Config struct {
	// UploadsRoot is the directory holding one subdirectory per namespace.
	UploadsRoot string
	// PerSession keys state by session token. When false every request
	// maps to SharedNamespace.
	PerSession bool
	// Secure sets the Secure attribute on issued cookies.
	Secure bool
	// Secret signs cookies. A random secret is generated when empty.
	Secret []byte
}

// Manager resolves and issues session cookies.
type Manager struct {
	root   string
	shared bool
	secure bool
	secret []byte
}

// NewManager returns a Manager for cfg.
func NewManager(cfg Config) (*Manager, error) {
	secret := cfg.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEntropy, err)
		}
	}
	return &Manager{
		root:   cfg.UploadsRoot,
		shared: !cfg.PerSession,
		secure: cfg.Secure,
		secret: secret,
	}, nil
}

// Shared reports whether every request maps to SharedNamespace.
func (m *Manager) Shared() bool { return m.shared }

// Resolve returns the session of r. A missing, tampered or foreign cookie is
// replaced: a fresh token is generated and set on w.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (Session, error) {
	if c, err := r.Cookie(CookieName); err == nil {
		if sid, ok := m.verify(c.Value); ok {
			return m.session(sid, false), nil
		}
	}

	sid, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	signed, err := m.sign(sid)
	if err != nil {
		return Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return m.session(sid, true), nil
}

// Dir returns the uploads directory of s.
func (m *Manager) Dir(s Session) string {
	return filepath.Join(m.root, s.Namespace)
}

func (m *Manager) session(sid string, isNew bool) Session {
	ns := sid
	if m.shared {
		ns = SharedNamespace
	}
	return Session{Token: sid, Namespace: ns, New: isNew}
}

func (m *Manager) sign(sid string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{claimSessionID: sid})
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign cookie: %w", err)
	}
	return signed, nil
}

func (m *Manager) verify(raw string) (string, bool) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sid, ok := claims[claimSessionID].(string)
	if !ok || !validToken(sid) {
		return "", false
	}
	return sid, true
}

// NewToken returns a random 16-byte token encoded as 32 hex characters.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEntropy, err)
	}
	return hex.EncodeToString(b), nil
}

func validToken(s string) bool {
	if len(s) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
