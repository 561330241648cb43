package popx

import (
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/popxhq/popx/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionProfileWins(t *testing.T) {
	user := testUser()
	profile := map[string]any{
		MetaFullName:    "Marry From Profile",
		MetaCompanyName: "PopX Ltd",
	}

	s, err := NewSession(user, profile)
	require.NoError(t, err)

	assert.Equal(t, testUserID, s.ID.String())
	assert.Equal(t, "marry@example.com", s.Email)
	assert.Equal(t, "Marry From Profile", s.FullName())
	assert.Equal(t, "PopX Ltd", s.CompanyName())
	assert.Equal(t, "+14155550100", s.PhoneNumber())
	assert.True(t, s.IsAgency())
	require.NotNil(t, s.CreatedAt)

	// the user metadata is copied, not aliased
	assert.Equal(t, "Marry Doe", user.UserMetadata[MetaFullName])
}

func TestNewSessionWithoutProfile(t *testing.T) {
	s, err := NewSession(testUser(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Marry Doe", s.FullName())
	assert.Equal(t, "", s.CompanyName())
}

func TestNewSessionInvalidUser(t *testing.T) {
	_, err := NewSession(nil, nil)
	require.Error(t, err)

	_, err = NewSession(&gateway.User{ID: "not-a-uuid"}, nil)
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, TextCodeInvalidUser, richErr.TextCode)
	assert.Equal(t, "not-a-uuid", richErr.Metadata["user_id"])
}

func TestNewSessionEmailFromProfile(t *testing.T) {
	user := testUser()
	user.Email = ""

	s, err := NewSession(user, map[string]any{"email": "profile@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "profile@example.com", s.Email)
}

func TestSessionIsAgency(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"yes", "yes", true},
		{"Yes", "Yes", true},
		{"no", "no", false},
		{"true string", "true", true},
		{"missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Metadata: map[string]any{}}
			if tt.value != nil {
				s.Metadata[MetaIsAgency] = tt.value
			}
			assert.Equal(t, tt.want, s.IsAgency())
		})
	}

	legacy := &Session{Metadata: map[string]any{"isAgency": "yes"}}
	assert.True(t, legacy.IsAgency())
}

func TestSessionAccessorsFallback(t *testing.T) {
	s := &Session{
		Phone: "+14155550199",
		Metadata: map[string]any{
			"fullName":    "Legacy Name",
			"companyName": "Legacy Co",
		},
	}

	assert.Equal(t, "Legacy Name", s.FullName())
	assert.Equal(t, "Legacy Co", s.CompanyName())
	assert.Equal(t, "+14155550199", s.PhoneNumber())

	var nilSession *Session
	assert.Equal(t, "", nilSession.PhoneNumber())
	assert.Equal(t, "", nilSession.FullName())
	assert.Nil(t, nilSession.Attribute(MetaFullName))
	assert.Equal(t, "<no session>", nilSession.String())
}

func TestNewProfileView(t *testing.T) {
	assert.Equal(t, ProfileView{}, NewProfileView(nil))

	s, err := NewSession(testUser(), map[string]any{MetaCompanyName: "PopX Ltd"})
	require.NoError(t, err)

	assert.Equal(t, ProfileView{
		DisplayName: "Marry Doe",
		Initials:    "MD",
		Email:       "marry@example.com",
		PhoneNumber: "+14155550100",
		CompanyName: "PopX Ltd",
		AccountType: "Agency",
		MemberSince: "Oct 1, 2026",
	}, NewProfileView(s))
}
