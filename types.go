package popx

import (
	"context"
	"fmt"
	"strings"

	"github.com/popxhq/popx/gateway"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AuthGateway is the per client view of the remote auth gateway.
// *gateway.Auth implements it.
type AuthGateway interface {
	GetSession(ctx context.Context) (*gateway.Session, error)
	GetUser(ctx context.Context) (*gateway.User, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*gateway.User, *gateway.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*gateway.Session, error)
	SignOut(ctx context.Context) error
	QueryByPK(ctx context.Context, table, id string, dest any) error
	OnAuthStateChange(fn gateway.AuthChangeFunc) *gateway.Subscription
}

var _ AuthGateway = (*gateway.Auth)(nil)

// AuthGatewayFactory creates the gateway session holder of a client.
type AuthGatewayFactory func(clientID string) AuthGateway

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Printf("[DBG] POPX %s\n", format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Printf("[INF] POPX %s\n", format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Printf("[WRN] POPX %s\n", format(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Printf("[ERR] POPX %s\n", format(msg, args...))
}

// format renders key/value pairs after the message.
func format(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return b.String()
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
