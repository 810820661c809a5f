package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
)

// Claims is the bearer token issued by the identity service.
type Claims struct {
	Role            domain.Role            `json:"role"`
	Name            string                 `json:"name"`
	Email           string                 `json:"email"`
	ParticipantType domain.ParticipantType `json:"participantType,omitempty"`
	jwt.RegisteredClaims
}

type actorKey struct{}

func withActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the authenticated caller stored by JWTMiddleware.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// NewToken signs an HS256 token for a. Used by tooling and tests; production
// tokens come from the identity service.
func NewToken(secret string, a domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:            a.Role,
		Name:            a.Name,
		Email:           a.Email,
		ParticipantType: a.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (domain.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Actor{}, errors.Wrap(err, "subject")
	}
	switch claims.Role {
	case domain.RoleParticipant, domain.RoleOrganizer, domain.RoleAdmin:
	default:
		return domain.Actor{}, errors.Newf("unknown role %q", claims.Role)
	}
	return domain.Actor{
		ID:    id,
		Role:  claims.Role,
		Name:  claims.Name,
		Email: claims.Email,
		Type:  claims.ParticipantType,
	}, nil
}

// JWTMiddleware resolves the bearer token into a domain.Actor. Requests
// without a valid token are refused.
func JWTMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeProblem(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			actor, err := parseToken(secret, raw)
			if err != nil {
				loggerFrom(r.Context()).Debug("rejected token: ", err)
				writeProblem(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}
