package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/vocdoni/saas-billing/api/apicommon"
	"github.com/vocdoni/saas-billing/db"
	"github.com/vocdoni/saas-billing/errors"
)

// userIDClaim is the JWT claim holding the local user id.
const userIDClaim = "userId"

// authenticator is a middleware that checks the JWT token verified by
// jwtauth.Verifier, loads the user of its userId claim from the database and
// adds it to the request context for the next handlers.
func (a *API) authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			errors.ErrUnauthorized.Write(w)
			return
		}
		if token == nil || jwt.Validate(token, jwt.WithRequiredClaim(userIDClaim)) != nil {
			errors.ErrUnauthorized.Withf("userId claim not found in JWT token").Write(w)
			return
		}
		userID, ok := claims[userIDClaim].(string)
		if !ok || userID == "" {
			errors.ErrUnauthorized.Withf("invalid userId claim").Write(w)
			return
		}
		user, err := a.db.NewContext().Users().Find(r.Context(), userID)
		if err != nil {
			if stderrors.Is(err, db.ErrNotFound) {
				errors.ErrUnauthorized.Withf("user not found").Write(w)
				return
			}
			errors.ErrGenericInternalServerError.Withf("could not retrieve user from database: %v", err).Write(w)
			return
		}
		ctx := context.WithValue(r.Context(), apicommon.UserMetadataKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MakeToken creates a JWT token for the given user identifier, signed with
// the API secret and valid for jwtExpiration.
func (a *API) MakeToken(userID string) (string, time.Time, error) {
	expiration := a.now().Add(jwtExpiration)
	j := jwt.New()
	if err := j.Set(userIDClaim, userID); err != nil {
		return "", time.Time{}, err
	}
	if err := j.Set(jwt.ExpirationKey, expiration); err != nil {
		return "", time.Time{}, err
	}
	jmap, err := j.AsMap(context.Background())
	if err != nil {
		return "", time.Time{}, err
	}
	_, token, err := a.auth.Encode(jmap)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiration, nil
}
