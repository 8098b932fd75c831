package testutil

import (
	"net/http"

	"limscore/internal/platform/middleware"
	"limscore/pkg/domain"
)

// WithActor places an authenticated actor on the request context, the same
// way the auth middleware does for real requests.
func WithActor(req *http.Request, actor domain.Actor) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}
