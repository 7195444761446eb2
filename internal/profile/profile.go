package profile

import (
	"context"
	"fmt"
)

// Persisted field names. The same names are used by every store
// implementation so a store can be swapped without losing the session.
const (
	FieldAPIToken      = "api_token"
	FieldUserID        = "user_uuid"
	FieldTokenIssuedAt = "token_issued_at"
	FieldName          = "user_name"
	FieldEmail         = "user_email"
	FieldBirthday      = "user_birthday"
	FieldLocation      = "user_location"
)

// FieldReader reads single named fields from persistent storage.
type FieldReader interface {
	GetField(ctx context.Context, key string) (string, bool, error)
}

// FieldWriter writes single named fields to persistent storage.
type FieldWriter interface {
	SetField(ctx context.Context, key, value string) error
}

// Profile is the user's profile as last known to the proxy. Birthday and
// Location are optional: nil means the value has not been supplied.
type Profile struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Birthday *string `json:"birthday,omitempty"`
	Location *string `json:"location,omitempty"`
}

// MissingInfo reports whether the optional details a UI should prompt for
// are absent.
func (p Profile) MissingInfo() bool {
	return p.Birthday == nil || *p.Birthday == ""
}

// Clone returns a deep copy, so callers can hand the result to subscribers
// without sharing the optional field pointers.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}

	c := Profile{
		Name:     p.Name,
		Email:    p.Email,
		Birthday: cloneString(p.Birthday),
		Location: cloneString(p.Location),
	}

	return &c
}

// Update is a partial profile modification. A nil field is left untouched
// when applied.
type Update struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
	Birthday *string `json:"birthdate,omitempty"`
}

// IsEmpty is true when the update carries no fields at all.
func (u Update) IsEmpty() bool {
	return u.Name == nil && u.Location == nil && u.Birthday == nil
}

// Apply returns a copy of p with the fields supplied in u replaced.
func (p Profile) Apply(u Update) Profile {
	updated := *p.Clone()

	if u.Name != nil {
		updated.Name = *u.Name
	}
	if u.Location != nil {
		updated.Location = cloneString(u.Location)
	}
	if u.Birthday != nil {
		updated.Birthday = cloneString(u.Birthday)
	}

	return updated
}

// Load rehydrates the last known profile from storage. Without a stored email
// there is no profile, and (nil, nil) is returned.
func Load(ctx context.Context, r FieldReader) (*Profile, error) {
	email, found, err := r.GetField(ctx, FieldEmail)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FieldEmail, err)
	}
	if !found || email == "" {
		return nil, nil
	}

	p := &Profile{Email: email}

	p.Name, _, err = r.GetField(ctx, FieldName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FieldName, err)
	}

	p.Birthday, err = optionalField(ctx, r, FieldBirthday)
	if err != nil {
		return nil, err
	}

	p.Location, err = optionalField(ctx, r, FieldLocation)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Save writes every profile field. Absent optional fields are written empty,
// which Load reads back as absent.
func Save(ctx context.Context, w FieldWriter, p Profile) error {
	fields := []struct {
		key   string
		value string
	}{
		{FieldName, p.Name},
		{FieldEmail, p.Email},
		{FieldBirthday, deref(p.Birthday)},
		{FieldLocation, deref(p.Location)},
	}

	for _, f := range fields {
		if err := w.SetField(ctx, f.key, f.value); err != nil {
			return fmt.Errorf("writing %s: %w", f.key, err)
		}
	}

	return nil
}

// SaveUpdate writes only the fields supplied in u.
func SaveUpdate(ctx context.Context, w FieldWriter, u Update) error {
	fields := []struct {
		key   string
		value *string
	}{
		{FieldName, u.Name},
		{FieldLocation, u.Location},
		{FieldBirthday, u.Birthday},
	}

	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := w.SetField(ctx, f.key, *f.value); err != nil {
			return fmt.Errorf("writing %s: %w", f.key, err)
		}
	}

	return nil
}

func optionalField(ctx context.Context, r FieldReader, key string) (*string, error) {
	v, found, err := r.GetField(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if !found || v == "" {
		return nil, nil
	}

	return &v, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// String returns a pointer to s, for building updates and optional fields.
func String(s string) *string {
	return &s
}
