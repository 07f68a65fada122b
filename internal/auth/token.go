package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
)

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Roles        []string            `json:"roles,omitempty"`
	CompanyRoles map[string][]string `json:"company_roles,omitempty"`
	CompanyID    string              `json:"company_id,omitempty"`
	Premium      bool                `json:"premium,omitempty"`
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for p valid for ttl.
func (v *Verifier) Issue(p *Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:        p.Roles,
		CompanyRoles: p.CompanyRoles,
		CompanyID:    p.CompanyID,
		Premium:      p.Premium,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", eris.Wrap(err, "auth: sign token")
	}
	return tok, nil
}

// Verify parses token and returns its principal.
func (v *Verifier) Verify(token string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, eris.Wrap(err, "auth: malformed token")
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, eris.Wrap(err, "auth: token expired")
		default:
			return nil, eris.Wrap(err, "auth: invalid token")
		}
	}
	if claims.Subject == "" {
		return nil, eris.New("auth: token without subject")
	}
	return &Principal{
		UserID:       claims.Subject,
		CompanyID:    claims.CompanyID,
		Roles:        claims.Roles,
		CompanyRoles: claims.CompanyRoles,
		Premium:      claims.Premium,
	}, nil
}

// Middleware resolves the bearer token of each request. Requests without a
// token continue anonymously; invalid tokens are rejected with 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, `{"error":"unsupported authorization scheme"}`, http.StatusUnauthorized)
			return
		}
		p, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			zap.L().Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).Anonymous() {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects non-admin requests with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).IsAdmin() {
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Forbidden is the error returned when p lacks a permission.
func Forbidden(action string) error {
	return apperr.AccessDenied("Access denied", "you are not allowed to %s", action)
}
