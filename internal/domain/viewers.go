package domain

import (
	"database/sql/driver"
	"errors"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
)

// ErrInvalidViewer is returned when a viewer is not a usable email address
var ErrInvalidViewer = errors.New("viewer must be a valid email address")

var validate = validator.New()

// Viewers lists the normalized emails a video is assigned to
type Viewers []string

// NormalizeViewer lowercases and trims an email and checks its shape
func NormalizeViewer(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(normalized, "required,email"); err != nil {
		return "", ErrInvalidViewer
	}
	return normalized, nil
}

// Contains reports whether the email is assigned. Matching ignores case.
func (v Viewers) Contains(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	return slices.Contains(v, email)
}

// Add returns the list with email appended and whether it changed
func (v Viewers) Add(email string) (Viewers, bool) {
	if v.Contains(email) {
		return v, false
	}
	return append(slices.Clone(v), email), true
}

// Scan reads a Postgres text[] column
func (v *Viewers) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*v = Viewers(arr)
	return nil
}

// Value writes the list as a Postgres text[]; nil is stored as an empty array
func (v Viewers) Value() (driver.Value, error) {
	if v == nil {
		return pq.StringArray{}.Value()
	}
	return pq.StringArray(v).Value()
}
