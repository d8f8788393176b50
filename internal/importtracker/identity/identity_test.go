package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const userId = "3f2b8c1e-5d4a-4b6f-9e7c-2a1d0c9b8e7f"

func TestSubmitterId(t *testing.T) {
	tests := map[string]struct {
		provider UserProvider
		ctx      context.Context
		expected string
	}{
		"nil provider": {
			provider: nil,
			ctx:      context.Background(),
			expected: "00000000-0000-0000-0000-000000000000",
		},
		"static": {
			provider: &StaticUserProvider{Id: userId},
			ctx:      context.Background(),
			expected: userId,
		},
		"static empty": {
			provider: &StaticUserProvider{},
			ctx:      context.Background(),
			expected: "00000000-0000-0000-0000-000000000000",
		},
		"context": {
			provider: ContextUserProvider{},
			ctx:      WithUserId(context.Background(), userId),
			expected: userId,
		},
		"context missing": {
			provider: ContextUserProvider{},
			ctx:      context.Background(),
			expected: "00000000-0000-0000-0000-000000000000",
		},
		"not a uuid": {
			provider: ContextUserProvider{},
			ctx:      WithUserId(context.Background(), "alice"),
			expected: "00000000-0000-0000-0000-000000000000",
		},
		"upper case normalised": {
			provider: &StaticUserProvider{Id: "3F2B8C1E-5D4A-4B6F-9E7C-2A1D0C9B8E7F"},
			ctx:      context.Background(),
			expected: userId,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SubmitterId(tc.ctx, tc.provider))
		})
	}
}

func TestHeaderMiddleware(t *testing.T) {
	var seen string
	handler := HeaderMiddleware("X-User-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubmitterId(r.Context(), ContextUserProvider{})
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-User-Id", userId)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, userId, seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", seen)
}
