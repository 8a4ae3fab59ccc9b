package ctxplayer

import (
	"context"
	"net/http"

	"fknsrs.biz/p/bilifm/internal/player"
)

// context registration

var engineKey int

func WithEngine(ctx context.Context, e *player.Engine) context.Context {
	return context.WithValue(ctx, &engineKey, e)
}

func GetEngine(ctx context.Context) *player.Engine {
	if v := ctx.Value(&engineKey); v != nil {
		return v.(*player.Engine)
	}

	return nil
}

// middleware

func Register(e *player.Engine) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithEngine(r.Context(), e)))
	}
}
