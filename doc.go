// Package popx implements the PopX account web application: signup, login
// and profile pages backed by a remote auth gateway.
//
// Each browser is identified by a signed client cookie. For every client the
// server keeps three objects:
//   - an AuthGateway (the gateway session holder for that browser),
//   - a SessionStore holding the signed in Session, or nothing,
//   - a Synchronizer that reconciles gateway auth state changes into the
//     store.
//
// The store has no source of truth of its own: it is written only by the
// synchronizer and read by the Guard middleware, which decides on every
// request whether a page is rendered or redirected.
package popx
