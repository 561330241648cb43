// Package gateway is a client for the remote identity and database service
// (GoTrue/PostgREST compatible) that owns PopX accounts.
//
// Client wraps the REST endpoints. Auth layers a per-browser session holder
// on top of a Client: it persists the current session through a
// SessionStorage, refreshes expired access tokens, and notifies listeners
// registered with OnAuthStateChange every time the session changes.
//
// Listeners receive a Subscription handle and must call Unsubscribe when the
// owner is torn down.
package gateway
