package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/authz"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const actorKey = "actor"

var errNoSecret = errors.New("jwt secret is not configured")

// Claims is the bearer token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the account service
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for userID. Used by tooling and tests.
func (a *Authenticator) Issue(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errNoSecret
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates a token and returns the actor it identifies. Without a
// secret every token is rejected.
func (a *Authenticator) Parse(tokenString string) (*authz.Actor, error) {
	if len(a.secret) == 0 {
		return nil, errNoSecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errors.New("token subject is not a user id")
	}
	return &authz.Actor{UserID: userID, Role: claims.Role}, nil
}

// authenticate attaches the actor when a bearer token is present. A bad
// token is rejected; a missing one leaves the request anonymous.
func (a *Authenticator) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			abortUnauthorized(c, "malformed authorization header")
			return
		}

		actor, err := a.Parse(tokenString)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// requireActor rejects anonymous requests
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorFrom(c) == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// actorFrom returns the authenticated actor, nil for guests
func actorFrom(c *gin.Context) *authz.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil
	}
	actor, _ := v.(*authz.Actor)
	return actor
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: message, Code: apperr.CodeUnauthorized})
}
