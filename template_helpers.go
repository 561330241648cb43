package popx

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TemplateHelpers returns the functions registered on the view engine.
//
// In templates:
//
//	{{ display_name(user) }}
//	{{ initials(user) }}
//	{% if is_authenticated(current_user) %}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"display_name":     displayName,
		"initials":         initials,
		"agency_label":     agencyLabel,
	}
}

func isAuthenticated(user any) bool {
	s, ok := user.(*Session)
	return ok && s != nil
}

func displayName(s *Session) string {
	if s == nil {
		return ""
	}
	if name := s.FullName(); name != "" {
		return name
	}
	local, _, _ := strings.Cut(s.Email, "@")
	return local
}

func initials(s *Session) string {
	var b strings.Builder
	for _, word := range strings.Fields(displayName(s)) {
		r, _ := utf8.DecodeRuneInString(word)
		if r == utf8.RuneError {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() >= 2 {
			break
		}
	}
	return b.String()
}

func agencyLabel(s *Session) string {
	if s == nil {
		return ""
	}
	if s.IsAgency() {
		return "Agency"
	}
	return "Individual"
}
