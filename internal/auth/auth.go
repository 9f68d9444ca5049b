// Package auth verifies access tokens and workspace membership for the HTTP
// surface. Token issuance lives in the identity service; this package only
// checks what it is handed: signature, expiry, the blacklist, and that the
// caller belongs to the workspace named in the request.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

// WorkspaceHeader names the active workspace on every authenticated request.
const WorkspaceHeader = "X-Workspace-Id"

// Blacklist answers whether a token has been revoked.
type Blacklist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Memberships answers whether a user belongs to a workspace.
type Memberships interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID      string
	WorkspaceID string
}

type identityKey struct{}

// WithIdentity attaches an identity to a context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the caller identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Verifier checks access tokens and workspace membership.
type Verifier struct {
	secret      []byte
	blacklist   Blacklist
	memberships Memberships
	log         *slog.Logger
}

// NewVerifier creates a Verifier. A nil blacklist skips revocation checks.
func NewVerifier(secret string, bl Blacklist, ms Memberships, log *slog.Logger) *Verifier {
	return &Verifier{
		secret:      []byte(secret),
		blacklist:   bl,
		memberships: ms,
		log:         log.With("component", "auth"),
	}
}

type accessClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// VerifyToken validates the signature and expiry of an access token and
// returns the user id it names.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.Validation, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, err, "invalid access token")
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return "", apperr.New(apperr.Validation, "token is not an access token")
	}
	if claims.Subject == "" {
		return "", apperr.New(apperr.Validation, "token has no subject")
	}

	if v.blacklist != nil && claims.ID != "" {
		revoked, err := v.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", apperr.Wrap(apperr.Upstream, err, "checking token revocation")
		}
		if revoked {
			return "", apperr.New(apperr.Validation, "token has been revoked")
		}
	}
	return claims.Subject, nil
}

// requestToken pulls the bearer token from the Authorization header, or from
// the token query parameter for SSE clients that cannot set headers.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// requestWorkspace reads the workspace id from the header, falling back to
// the workspace query parameter for SSE clients.
func requestWorkspace(r *http.Request) string {
	if ws := r.Header.Get(WorkspaceHeader); ws != "" {
		return ws
	}
	return r.URL.Query().Get("workspace")
}

// Middleware authenticates a request and scopes it to a workspace. The
// wrapped handler sees an Identity in the request context.
func (v *Verifier) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			unauthorized(w, "missing access token")
			return
		}
		userID, err := v.VerifyToken(r.Context(), token)
		if err != nil {
			v.log.Debug("token rejected", "error", err)
			unauthorized(w, "invalid access token")
			return
		}

		workspaceID := requestWorkspace(r)
		if workspaceID == "" {
			badRequest(w, WorkspaceHeader+" header is required")
			return
		}
		member, err := v.memberships.IsMember(r.Context(), workspaceID, userID)
		if err != nil {
			v.log.Error("membership check failed", "error", err)
			http.Error(w, `{"error":"membership check failed"}`, http.StatusInternalServerError)
			return
		}
		if !member {
			forbidden(w, "not a member of this workspace")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{UserID: userID, WorkspaceID: workspaceID})
		next(w, r.WithContext(ctx))
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeAuthError(w, http.StatusUnauthorized, msg)
}

func forbidden(w http.ResponseWriter, msg string) {
	writeAuthError(w, http.StatusForbidden, msg)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeAuthError(w, http.StatusBadRequest, msg)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
