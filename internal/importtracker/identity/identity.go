// Package identity supplies the id of the user submitting an import.
package identity

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/util"
)

type userIdKey struct{}

// UserProvider returns the submitter of the current request, if known.
type UserProvider interface {
	UserId(ctx context.Context) (string, bool)
}

// StaticUserProvider always reports the same user. An empty Id reports no user.
type StaticUserProvider struct {
	Id string
}

func (p *StaticUserProvider) UserId(context.Context) (string, bool) {
	return p.Id, p.Id != ""
}

// ContextUserProvider reports the user stored in the context by WithUserId.
type ContextUserProvider struct{}

func (ContextUserProvider) UserId(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIdKey{}).(string)
	return id, ok && id != ""
}

func WithUserId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIdKey{}, id)
}

// HeaderMiddleware copies the value of header into the request context for ContextUserProvider.
func HeaderMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(header); id != "" {
				r = r.WithContext(WithUserId(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubmitterId resolves the submitter through provider, falling back to the nil UUID when the
// provider has no user or reports something that is not a UUID.
func SubmitterId(ctx context.Context, provider UserProvider) string {
	if provider == nil {
		return util.NilUUID
	}
	id, ok := provider.UserId(ctx)
	if !ok {
		return util.NilUUID
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		log.WithField("userId", id).Warn("user id is not a uuid; submitting anonymously")
		return util.NilUUID
	}
	return parsed.String()
}
