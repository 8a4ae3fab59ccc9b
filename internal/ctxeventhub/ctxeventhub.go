package ctxeventhub

import (
	"context"
	"net/http"

	"fknsrs.biz/p/bilifm/internal/eventhub"
)

// context registration

var hubKey int

func WithHub(ctx context.Context, h *eventhub.Hub) context.Context {
	return context.WithValue(ctx, &hubKey, h)
}

func GetHub(ctx context.Context) *eventhub.Hub {
	if v := ctx.Value(&hubKey); v != nil {
		return v.(*eventhub.Hub)
	}

	return nil
}

// main interface

// Publish is a no-op when no hub is registered, so code paths that can run
// outside the server (tests, one-off tools) don't have to care.
func Publish(ctx context.Context, eventType string, data interface{}) {
	if h := GetHub(ctx); h != nil {
		h.Publish(eventType, data)
	}
}

// middleware

func Register(h *eventhub.Hub) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithHub(r.Context(), h)))
	}
}
