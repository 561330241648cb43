package popx

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/popxhq/popx/gateway"
)

// Metadata keys written at signup.
const (
	MetaFullName    = "full_name"
	MetaPhoneNumber = "phone_number"
	MetaCompanyName = "company_name"
	MetaIsAgency    = "is_agency"
)

// Session is the signed in user as shown by the views. It exists only while
// the gateway reports an authenticated session.
type Session struct {
	ID           uuid.UUID      `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewSession merges the gateway user with its profile row. Profile values
// win over the identity provider metadata; profile may be nil when the user
// has no row.
func NewSession(user *gateway.User, profile map[string]any) (*Session, error) {
	if user == nil {
		return nil, ErrInvalidUser.Clone()
	}

	id, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, ErrInvalidUser.Clone().WithMetadata(map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}

	metadata := make(map[string]any, len(user.UserMetadata)+len(profile))
	maps.Copy(metadata, user.UserMetadata)
	maps.Copy(metadata, profile)

	s := &Session{
		ID:           id,
		Email:        user.Email,
		Phone:        user.Phone,
		CreatedAt:    user.CreatedAt,
		LastSignInAt: user.LastSignInAt,
		Metadata:     metadata,
	}

	if s.Email == "" {
		s.Email = s.stringAttr("email")
	}

	return s, nil
}

// Attribute returns a metadata value.
func (s *Session) Attribute(key string) any {
	if s == nil || s.Metadata == nil {
		return nil
	}
	return s.Metadata[key]
}

// FullName returns the display name, accepting the column spellings used by
// older profile tables.
func (s *Session) FullName() string {
	return s.stringAttr(MetaFullName, "fullName", "name")
}

func (s *Session) PhoneNumber() string {
	if v := s.stringAttr(MetaPhoneNumber, "phoneNumber"); v != "" {
		return v
	}
	if s == nil {
		return ""
	}
	return s.Phone
}

func (s *Session) CompanyName() string {
	return s.stringAttr(MetaCompanyName, "companyName")
}

// IsAgency reads the agency flag stored either as a bool or as "yes"/"no".
func (s *Session) IsAgency() bool {
	for _, key := range []string{MetaIsAgency, "isAgency"} {
		switch v := s.Attribute(key).(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "yes") || strings.EqualFold(v, "true")
		}
	}
	return false
}

func (s *Session) String() string {
	if s == nil {
		return "<no session>"
	}
	return fmt.Sprintf("%s <%s>", s.ID, s.Email)
}

func (s *Session) stringAttr(keys ...string) string {
	for _, key := range keys {
		if v, ok := s.Attribute(key).(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ProfileView is the flattened profile page model. Views receive binds as
// JSON, so values are precomputed here instead of called from templates.
type ProfileView struct {
	DisplayName string `json:"display_name"`
	Initials    string `json:"initials"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	AccountType string `json:"account_type"`
	MemberSince string `json:"member_since,omitempty"`
}

func NewProfileView(s *Session) ProfileView {
	if s == nil {
		return ProfileView{}
	}
	v := ProfileView{
		DisplayName: displayName(s),
		Initials:    initials(s),
		Email:       s.Email,
		PhoneNumber: s.PhoneNumber(),
		CompanyName: s.CompanyName(),
		AccountType: agencyLabel(s),
	}
	if s.CreatedAt != nil {
		v.MemberSince = s.CreatedAt.Format("Jan 2, 2006")
	}
	return v
}
