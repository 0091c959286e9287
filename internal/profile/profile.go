package profile

import (
	"strings"
)

// DOB holds the optional date-of-birth parts as they appear in the profile file.
// Empty parts mean the file did not provide them.
type DOB struct {
	Day   string
	Month string
	Year  string
}

// Profile is one ballot applicant. It is read-only once loaded.
type Profile struct {
	Email        string
	Password     string
	Name         string
	AddressLine1 string
	City         string
	Postcode     string
	MobileNumber string
	DOB          DOB
}

// FirstName is the part of Name before the first space.
func (p *Profile) FirstName() string {
	first, _, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
	return first
}

// LastName is everything after the first space of Name, or "".
func (p *Profile) LastName() string {
	_, last, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
	return strings.TrimSpace(last)
}

// Label identifies the profile in logs and file names.
func (p *Profile) Label() string {
	if p.Email != "" {
		return p.Email
	}
	return p.Name
}
