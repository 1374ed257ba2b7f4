package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Kind selects one of the registration collections.
type Kind string

const (
	KindPriority   Kind = "priority"
	KindFirstRound Kind = "first-round"
	KindPast       Kind = "past"
)

var Kinds = []Kind{KindPriority, KindFirstRound, KindPast}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown registration kind %q", s)
}

// AcceptsRegistrations reports whether the public form can submit to k.
// Past registrations are read-only archives.
func (k Kind) AcceptsRegistrations() bool {
	return k == KindPriority || k == KindFirstRound
}

func (k Kind) adminPath() string {
	return "/api/admin/" + string(k) + "-registrations"
}

// Filter narrows an admin registration listing. Empty fields do not filter.
type Filter struct {
	TargetAudience           string `json:"targetAudience,omitempty" yaml:"targetAudience"`
	Committee                string `json:"committee,omitempty" yaml:"committee"`
	FirstPreferenceCommittee string `json:"firstPreferenceCommittee,omitempty" yaml:"firstPreferenceCommittee"`
	Country                  string `json:"country,omitempty" yaml:"country"`
	College                  string `json:"college,omitempty" yaml:"college"`
}

const fingerprintSep = "|"

// Fingerprint joins the filter values in a fixed order. Equal filters give
// equal fingerprints and changing any field changes the result.
func (f Filter) Fingerprint() string {
	parts := []string{
		f.TargetAudience,
		f.Committee,
		f.FirstPreferenceCommittee,
		f.Country,
		f.College,
	}
	for i, p := range parts {
		parts[i] = url.QueryEscape(p)
	}
	return strings.Join(parts, fingerprintSep)
}

// Query encodes the non-empty fields as URL query parameters.
func (f Filter) Query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("targetAudience", f.TargetAudience)
	set("committee", f.Committee)
	set("firstPreferenceCommittee", f.FirstPreferenceCommittee)
	set("country", f.Country)
	set("college", f.College)
	return q
}

// FilterFromQuery is the inverse of Filter.Query.
func FilterFromQuery(q url.Values) Filter {
	return Filter{
		TargetAudience:           q.Get("targetAudience"),
		Committee:                q.Get("committee"),
		FirstPreferenceCommittee: q.Get("firstPreferenceCommittee"),
		Country:                  q.Get("country"),
		College:                  q.Get("college"),
	}
}

type PersonalDetails struct {
	FullName       string `json:"fullName" yaml:"fullName"`
	Email          string `json:"email" yaml:"email"`
	Phone          string `json:"phone" yaml:"phone"`
	Institution    string `json:"institution" yaml:"institution"`
	YearOfStudy    string `json:"yearOfStudy" yaml:"yearOfStudy"`
	TargetAudience string `json:"targetAudience" yaml:"targetAudience"`
	Experience     string `json:"experience,omitempty" yaml:"experience"`
}

// CommitteePreference is one ranked committee choice. Countries is used by
// regular committees, Role by International Press.
type CommitteePreference struct {
	Committee string   `json:"committee" yaml:"committee"`
	Countries []string `json:"countries,omitempty" yaml:"countries"`
	Role      string   `json:"role,omitempty" yaml:"role"`
}

type Payment struct {
	TransactionID string `json:"transactionId" yaml:"transactionId"`
	Amount        int    `json:"amount" yaml:"amount"`
	// Screenshot is an inline data URI or an https URL of the payment proof.
	Screenshot string `json:"screenshot,omitempty" yaml:"screenshot"`
}

type Registration struct {
	ID   string `json:"_id,omitempty" yaml:"id"`
	Kind Kind   `json:"kind,omitempty" yaml:"kind"`

	PersonalDetails `yaml:",inline"`

	Preferences []CommitteePreference `json:"preferences" yaml:"preferences"`
	Payment     Payment               `json:"payment" yaml:"payment"`
	CreatedAt   time.Time             `json:"createdAt,omitempty" yaml:"createdAt"`
}

// FirstPreference returns the committee ranked first, if any.
func (r Registration) FirstPreference() string {
	if len(r.Preferences) == 0 {
		return ""
	}
	return r.Preferences[0].Committee
}

type Admin struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Submission is the backend's answer to an accepted registration.
type Submission struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// IsProofReference reports whether s looks like a renderable payment proof:
// an inline image data URI or an https URL.
func IsProofReference(s string) bool {
	return strings.HasPrefix(s, "data:image/") || strings.HasPrefix(s, "https://")
}
