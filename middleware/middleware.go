// Package middleware provides HTTP permission middleware for Bastion.
package middleware

import (
	"context"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/bastion"
)

// Resolver builds the evaluation request for an HTTP call. The middleware
// fills in the permission key.
type Resolver func(ctx forge.Context) *bastion.Request

// DefaultResolver takes the requester from the authenticated Forge user and
// the location from the guildId and channelId path parameters. A route
// without guildId evaluates as a direct message.
func DefaultResolver(ctx forge.Context) *bastion.Request {
	return &bastion.Request{
		RequesterID: forge.UserIDFromContext(ctx.Context()),
		GuildID:     ctx.Param("guildId"),
		ChannelID:   ctx.Param("channelId"),
	}
}

// Require allows the request only if key is granted.
func Require(eng *bastion.Engine, key string) forge.Middleware {
	return RequireWith(eng, DefaultResolver, key)
}

// RequireWith is Require with a custom Resolver, for hosts that know the
// requester's roles and administrator status.
func RequireWith(eng *bastion.Engine, resolve Resolver, key string) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			if !allowed(ctx, eng, resolve, key) {
				return denyResponse(ctx, key)
			}
			return next(ctx)
		}
	}
}

// RequireAny allows the request if ANY of the keys is granted.
func RequireAny(eng *bastion.Engine, keys ...string) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			for _, key := range keys {
				if allowed(ctx, eng, DefaultResolver, key) {
					return next(ctx)
				}
			}
			return denyResponse(ctx, "")
		}
	}
}

// RequireAll allows the request only if ALL keys are granted.
func RequireAll(eng *bastion.Engine, keys ...string) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			for _, key := range keys {
				if !allowed(ctx, eng, DefaultResolver, key) {
					return denyResponse(ctx, key)
				}
			}
			return next(ctx)
		}
	}
}

func allowed(ctx forge.Context, eng *bastion.Engine, resolve Resolver, key string) bool {
	return permit(ctx.Context(), eng, resolve(ctx), key)
}

// permit fails closed: an anonymous requester or an evaluation error
// denies.
func permit(ctx context.Context, eng *bastion.Engine, req *bastion.Request, key string) bool {
	if eng == nil || req == nil || req.RequesterID == "" {
		return false
	}
	req.Key = key
	ok, err := eng.Allowed(ctx, req)
	return err == nil && ok
}

func denyResponse(ctx forge.Context, key string) error {
	body := map[string]string{"error": "access denied"}
	if key != "" {
		body["permission"] = key
	}
	return ctx.JSON(http.StatusForbidden, body)
}
