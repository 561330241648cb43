package popx

import "strings"

// Action is what the guard decided to do with a request.
type Action int

const (
	// Pass hands the request to the route handler untouched.
	Pass Action = iota
	// Render lets the route handler render View.
	Render
	// Redirect sends the browser to Location.
	Redirect
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "pass"
	}
}

// Decision is the outcome of Guard.Decide.
type Decision struct {
	Action   Action
	View     string
	Location string
}

func RenderView(view string) Decision {
	return Decision{Action: Render, View: view}
}

func RedirectTo(location string) Decision {
	return Decision{Action: Redirect, Location: location}
}

// RoutePolicy describes a guarded path.
type RoutePolicy struct {
	Path           string
	WithSession    Decision
	WithoutSession Decision
}

// Route paths of the application.
const (
	PathLanding = "/"
	PathSignup  = "/signup"
	PathLogin   = "/login"
	PathProfile = "/profile"
	PathLogout  = "/logout"
)

// View names of the application.
const (
	ViewLanding = "landing"
	ViewSignup  = "signup"
	ViewLogin   = "login"
	ViewProfile = "profile"
	ViewLoading = "loading"
	ViewError   = "errors/500"
)

// DefaultPolicies is the route table of the application.
var DefaultPolicies = []RoutePolicy{
	{Path: PathSignup, WithSession: RedirectTo(PathProfile), WithoutSession: RenderView(ViewSignup)},
	{Path: PathLogin, WithSession: RedirectTo(PathProfile), WithoutSession: RenderView(ViewLogin)},
	{Path: PathProfile, WithSession: RenderView(ViewProfile), WithoutSession: RedirectTo(PathLogin)},
	{Path: PathLanding, WithSession: RenderView(ViewLanding), WithoutSession: RenderView(ViewLanding)},
}

// Guard maps a request path and session presence to a Decision.
type Guard struct {
	policies map[string]RoutePolicy
}

// NewGuard builds a guard, using DefaultPolicies when none are given.
func NewGuard(policies ...RoutePolicy) *Guard {
	if len(policies) == 0 {
		policies = DefaultPolicies
	}
	g := &Guard{policies: make(map[string]RoutePolicy, len(policies))}
	for _, p := range policies {
		g.policies[normalizePath(p.Path)] = p
	}
	return g
}

// Guards reports whether path has a policy.
func (g *Guard) Guards(path string) bool {
	_, ok := g.policies[normalizePath(path)]
	return ok
}

// Decide returns the decision for path. Paths without a policy pass.
func (g *Guard) Decide(path string, hasSession bool) Decision {
	policy, ok := g.policies[normalizePath(path)]
	if !ok {
		return Decision{Action: Pass}
	}
	if hasSession {
		return policy.WithSession
	}
	return policy.WithoutSession
}

var defaultGuard = NewGuard()

// Decide applies DefaultPolicies to path and session.
func Decide(path string, session *Session) Decision {
	return defaultGuard.Decide(path, session != nil)
}

func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}
