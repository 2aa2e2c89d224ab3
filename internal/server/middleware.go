package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/stackin/escrow/internal/audit/domain"
	"github.com/stackin/escrow/internal/authorization"
	obscontext "github.com/stackin/escrow/internal/observability/context"
)

const contextActorKey = "actor"

// accessClaims is the bearer token body. Subject carries the user id.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthRequired authenticates the bearer token and stores the actor on the
// gin and request contexts.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.authenticate(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actorType := auditdomain.ActorTypeUser
		if strings.EqualFold(actor.Role, authorization.RoleAdmin) {
			actorType = auditdomain.ActorTypeAdmin
		}
		c.Set(contextActorKey, actor)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), string(actorType), actor.UserID.String()))
		c.Next()
	}
}

func (s *Server) authenticate(header string) (authorization.Actor, error) {
	secret := strings.TrimSpace(s.cfg.AuthJWTSecret)
	if secret == "" {
		return authorization.Actor{}, errors.New("auth_not_configured")
	}

	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return authorization.Actor{}, ErrUnauthorized
	}

	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return authorization.Actor{}, ErrUnauthorized
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || userID == 0 {
		return authorization.Actor{}, ErrUnauthorized
	}

	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role == "" {
		role = authorization.RoleUser
	}
	return authorization.Actor{UserID: userID, Role: role}, nil
}

func actorFromGin(c *gin.Context) (authorization.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	if !ok || !actor.Valid() {
		return authorization.Actor{}, false
	}
	return actor, true
}

// requireActor aborts with 401 when no authenticated actor is present.
func requireActor(c *gin.Context) (authorization.Actor, bool) {
	actor, ok := actorFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return authorization.Actor{}, false
	}
	return actor, true
}
