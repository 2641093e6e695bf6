package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tastechat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Provider names where a token's identity comes from.
type Provider string

const (
	ProviderAnon     Provider = "anon"
	ProviderTelegram Provider = "telegram"
)

const (
	tokenIssuer = "tastechat-service"
	tokenTTL    = 72 * time.Hour
	identityKey = "identity"
)

var (
	ErrMissingToken    = errors.New("authorization token missing")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrUnknownProvider = errors.New("unknown identity provider")
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	Provider Provider
	UserID   string
}

// extractor turns verified claims into an internal user id.
type extractor func(ctx context.Context, claims jwt.MapClaims) (string, error)

// subjectClaims is the claim holding the subject for each provider.
var subjectClaims = map[Provider]string{
	ProviderAnon:     "anon_id",
	ProviderTelegram: "telegram_id",
}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret     []byte
	users      storage.UserRepository
	extractors map[Provider]extractor
	now        func() time.Time
}

// NewAuthenticator creates an Authenticator. users resolves Telegram
// identities to internal user ids.
func NewAuthenticator(secret string, users storage.UserRepository) *Authenticator {
	a := &Authenticator{
		secret: []byte(secret),
		users:  users,
		now:    time.Now,
	}
	a.extractors = map[Provider]extractor{
		ProviderAnon:     a.anonSubject,
		ProviderTelegram: a.telegramSubject,
	}
	return a
}

func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// IssueToken signs a token for subject under the given provider.
func (a *Authenticator) IssueToken(provider Provider, subject string) (string, error) {
	claim, ok := subjectClaims[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	now := a.now()
	claims := jwt.MapClaims{
		"provider": string(provider),
		claim:      subject,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
		"iss":      tokenIssuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Resolve verifies the token and maps it to an Identity.
func (a *Authenticator) Resolve(ctx context.Context, tokenString string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	name, _ := claims["provider"].(string)
	provider := Provider(name)
	extract, ok := a.extractors[provider]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	userID, err := extract(ctx, claims)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Provider: provider, UserID: userID}, nil
}

func (a *Authenticator) anonSubject(_ context.Context, claims jwt.MapClaims) (string, error) {
	id, _ := claims[subjectClaims[ProviderAnon]].(string)
	if id == "" {
		return "", fmt.Errorf("%w: anon_id claim missing", ErrInvalidToken)
	}
	return id, nil
}

func (a *Authenticator) telegramSubject(ctx context.Context, claims jwt.MapClaims) (string, error) {
	telegramID, _ := claims[subjectClaims[ProviderTelegram]].(string)
	if telegramID == "" {
		return "", fmt.Errorf("%w: telegram_id claim missing", ErrInvalidToken)
	}
	if a.users == nil {
		return "", fmt.Errorf("%w: telegram identities are not enabled", ErrUnknownProvider)
	}
	user, err := a.users.SaveUserIfNotExists(ctx, telegramID)
	if err != nil {
		return "", fmt.Errorf("resolve telegram user: %w", err)
	}
	return user.ID, nil
}

// Middleware resolves the caller once per request. The token comes from
// the Authorization header or, for browser WebSocket clients, the token
// query parameter.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortUnauthenticated(c, ErrMissingToken)
			return
		}
		identity, err := a.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrUnknownProvider) {
				abortUnauthenticated(c, err)
				return
			}
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

func abortUnauthenticated(c *gin.Context, err error) {
	msg := ErrInvalidToken.Error()
	if errors.Is(err, ErrMissingToken) {
		msg = ErrMissingToken.Error()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthenticated"})
}

// identityFrom returns the caller set by Middleware.
func identityFrom(c *gin.Context) Identity {
	v, _ := c.Get(identityKey)
	identity, _ := v.(Identity)
	return identity
}

// GetAnonID створює AnonID та повертає JWT
func (h *Handler) GetAnonID(c *gin.Context) {
	anonUUID, err := uuid.NewRandom()
	if err != nil {
		writeError(c, err)
		return
	}
	anonID := anonUUID.String()

	token, err := h.Auth.IssueToken(ProviderAnon, anonID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token", "code": "internal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}
