package middleware

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is the resolved connection identity. Resolution never fails
// closed: a missing or bad credential yields an anonymous identity so
// unauthenticated viewers still get presence tracking.
type Identity struct {
	UserID          uuid.UUID
	UserName        string
	IsAuthenticated bool
}

type IdentityResolver interface {
	Resolve(ctx context.Context, token string) Identity
}

// JWTIdentityResolver validates the handshake token locally with an HMAC
// secret and maps the subject claim to a stable user id.
type JWTIdentityResolver struct {
	secretKey string
	logger    *zap.Logger
}

func NewJWTIdentityResolver(secretKey string, logger *zap.Logger) *JWTIdentityResolver {
	return &JWTIdentityResolver{
		secretKey: secretKey,
		logger:    logger,
	}
}

func (r *JWTIdentityResolver) Resolve(ctx context.Context, tokenString string) Identity {
	if tokenString == "" {
		return anonymousIdentity()
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(r.secretKey), nil
	})
	if err != nil || !token.Valid {
		r.logger.Debug("Token validation failed, admitting as anonymous", zap.Error(err))
		return anonymousIdentity()
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return anonymousIdentity()
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return anonymousIdentity()
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		// Non-UUID subjects still map to a stable identity across
		// reconnects.
		userID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(sub))
	}

	userName := ""
	if name, ok := claims["name"].(string); ok {
		userName = name
	}

	return Identity{
		UserID:          userID,
		UserName:        userName,
		IsAuthenticated: true,
	}
}

func anonymousIdentity() Identity {
	return Identity{
		UserID:          uuid.New(),
		IsAuthenticated: false,
	}
}
