package popx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemplateHelpers(t *testing.T) {
	helpers := TemplateHelpers()
	for _, name := range []string{"is_authenticated", "display_name", "initials", "agency_label"} {
		assert.Contains(t, helpers, name)
	}
}

func TestDisplayNameAndInitials(t *testing.T) {
	tests := []struct {
		name     string
		session  *Session
		display  string
		initials string
	}{
		{
			name:     "full name",
			session:  &Session{Email: "marry@example.com", Metadata: map[string]any{MetaFullName: "marry ann doe"}},
			display:  "marry ann doe",
			initials: "MA",
		},
		{
			name:     "email fallback",
			session:  &Session{Email: "jo@example.com"},
			display:  "jo",
			initials: "J",
		},
		{
			name:     "nil",
			session:  nil,
			display:  "",
			initials: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.display, displayName(tt.session))
			assert.Equal(t, tt.initials, initials(tt.session))
		})
	}
}

func TestIsAuthenticatedAndAgencyLabel(t *testing.T) {
	s := &Session{Email: "marry@example.com", Metadata: map[string]any{MetaIsAgency: "yes"}}

	assert.True(t, isAuthenticated(s))
	assert.False(t, isAuthenticated((*Session)(nil)))
	assert.False(t, isAuthenticated(nil))
	assert.False(t, isAuthenticated("marry"))

	assert.Equal(t, "Agency", agencyLabel(s))
	assert.Equal(t, "Individual", agencyLabel(&Session{}))
	assert.Equal(t, "", agencyLabel(nil))
}
