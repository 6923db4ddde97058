package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	dbpkg "studentrisk/internal/db"
	httpctx "studentrisk/internal/http/ctx"
	"studentrisk/internal/logsvc"
)

// Authenticator checks admin credentials. It returns dbpkg.ErrInvalidCredentials
// for a bad username or password.
type Authenticator func(ctx context.Context, username, password string) (*dbpkg.User, error)

const realm = `Basic realm="studentrisk admin"`

// AdminAuth returns middleware that requires HTTP Basic credentials of an
// admin user and sets the user on the context.
func AdminAuth(auth Authenticator, logger logsvc.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			username, password, ok := basicCredentials(ctx.Request.Header.Peek("Authorization"))
			if !ok {
				unauthorized(ctx, "missing basic credentials")
				return
			}

			user, err := auth(context.Background(), username, password)
			if err != nil {
				if errors.Is(err, dbpkg.ErrInvalidCredentials) {
					unauthorized(ctx, "invalid credentials")
					return
				}
				logger.Error("admin auth user=%q err=%v", username, err)
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("database error")
				return
			}

			httpctx.SetUser(ctx, user)
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.Response.Header.Set("WWW-Authenticate", realm)
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetBodyString(msg)
}

func basicCredentials(header []byte) (string, string, bool) {
	const prefix = "Basic "
	if len(header) <= len(prefix) || !bytes.EqualFold(header[:len(prefix)], []byte(prefix)) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(header[len(prefix):])))
	if err != nil {
		return "", "", false
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || username == "" {
		return "", "", false
	}
	return username, password, true
}
