package popx

import "github.com/goliatone/go-router"

// Locals keys set by the client middleware.
const (
	LocalsClientKey    = "popx_client"
	LocalsSessionIDKey = "session_id"
	TemplateUserKey    = "current_user"
)

// ClientFromRouter returns the Client stored by the client middleware.
func ClientFromRouter(ctx router.Context) (*Client, bool) {
	c, ok := ctx.Locals(LocalsClientKey).(*Client)
	return c, ok && c != nil
}

// SessionFromRouter returns the session of the request's client, if any.
func SessionFromRouter(ctx router.Context) (*Session, bool) {
	c, ok := ClientFromRouter(ctx)
	if !ok {
		return nil, false
	}
	s := c.Store.Current()
	return s, s != nil
}
