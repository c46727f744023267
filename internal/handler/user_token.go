package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"kyc-service/internal/util"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid or expired token")
	errWrongUser    = errors.New("token does not belong to this user")
)

const tokenIssuer = "kyc-service"

// UserTokens signs and verifies short-lived HS256 tokens that bind a caller
// to one user id.
type UserTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewUserTokens returns nil for an empty secret; user routes then accept
// the service key only.
func NewUserTokens(secret string, ttl time.Duration) *UserTokens {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &UserTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *UserTokens) Issue(userID string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify returns the user id the token was issued for.
func (t *UserTokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// RequireUser admits the service key, or a bearer token issued for the
// {userID} in the route. It must be mounted inline so the URL parameter is
// already resolved.
func RequireUser(tokens *UserTokens, serviceKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get(ServiceKeyHeader); got != "" && serviceKey != "" &&
				subtle.ConstantTimeCompare([]byte(got), []byte(serviceKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || tokens == nil {
				respondWithError(w, logger, http.StatusUnauthorized, errMissingToken, "Unauthorized")
				return
			}

			subject, err := tokens.Verify(strings.TrimSpace(token))
			if err != nil {
				logger.Debug("Rejected user token", util.ErrorField(err))
				respondWithError(w, logger, http.StatusUnauthorized, errInvalidToken, "Unauthorized")
				return
			}
			if subject != chi.URLParam(r, "userID") {
				respondWithError(w, logger, http.StatusForbidden, errWrongUser, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type tokenResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueToken is the service-role route the hosting backend calls after it
// has signed the user in.
func issueToken(tokens *UserTokens, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil {
			respondWithError(w, logger, http.StatusNotImplemented, errors.New("user tokens are not configured"), "Token signing disabled")
			return
		}
		var req tokenRequest
		if err := decodeJSON(r, &req); err != nil {
			respondWithError(w, logger, http.StatusBadRequest, err, "Invalid request body")
			return
		}
		if !util.IsSafeIdentifier(req.UserID) {
			respondWithError(w, logger, http.StatusBadRequest, errors.New("user_id must be a non-empty identifier"), "Invalid user id")
			return
		}
		token, expires, err := tokens.Issue(req.UserID)
		if err != nil {
			respondWithError(w, logger, http.StatusInternalServerError, err, "Failed to issue token")
			return
		}
		respondWithJSON(w, logger, http.StatusOK, successResponse(tokenResult{Token: token, ExpiresAt: expires}, ""))
	}
}
