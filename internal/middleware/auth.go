package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"gathering-service/internal/directory"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey     = "userID"
	RoleKey       = "role"
	UniversityKey = "university"
	NicknameKey   = "nickname"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the verified identity carried by an access token.
type Claims struct {
	UserID     int
	Role       string
	University string
	Nickname   string
}

type accessClaims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	University string `json:"university"`
	Nickname   string `json:"nickname"`
}

// Verifier checks HS256 access tokens issued by the identity service.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses token and returns its claims. The subject must be a numeric user id.
func (v *Verifier) Verify(token string) (Claims, error) {
	var parsed accessClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	userID, err := strconv.Atoi(parsed.Subject)
	if err != nil || userID <= 0 {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		UserID:     userID,
		Role:       parsed.Role,
		University: parsed.University,
		Nickname:   parsed.Nickname,
	}, nil
}

// Sign issues a token for claims. Only tests and local tooling mint tokens.
func (v *Verifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(claims.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:       claims.Role,
		University: claims.University,
		Nickname:   claims.Nickname,
	})
	return token.SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates the Authorization header and stores the caller's
// identity on the context. Nicknames seen in tokens feed names.
func AuthMiddleware(verifier *Verifier, names *directory.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if names != nil {
			names.Remember(claims.UserID, claims.Nickname)
		}

		SetClaims(c, claims)
		c.Next()
	}
}

// SetClaims stores claims under the context keys.
func SetClaims(c *gin.Context, claims Claims) {
	c.Set(UserIDKey, claims.UserID)
	c.Set(RoleKey, claims.Role)
	c.Set(UniversityKey, claims.University)
	c.Set(NicknameKey, claims.Nickname)
}
