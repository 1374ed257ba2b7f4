package registration

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"munportal/internal/api"
)

// Answers is a prepared set of form values, as read from a YAML file.
type Answers struct {
	Kind        api.Kind                  `yaml:"kind"`
	Personal    api.PersonalDetails       `yaml:"personal"`
	Preferences []api.CommitteePreference `yaml:"preferences"`
	Payment     api.Payment               `yaml:"payment"`
}

func ReadAnswers(r io.Reader) (*Answers, error) {
	var a Answers
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return &a, nil
}

// Fill enters a into f through the same setters a user would use, so the
// International Press switch applies.
func (a *Answers) Fill(f *Form) error {
	f.SetPersonal(a.Personal)
	for i, p := range a.Preferences {
		rank := i + 1
		if err := f.SelectCommittee(rank, p.Committee); err != nil {
			return err
		}
		if c, ok := LookupCommittee(p.Committee); ok && c.Press {
			if err := f.SetRole(rank, p.Role); err != nil {
				return err
			}
			continue
		}
		if err := f.SetCountries(rank, p.Countries); err != nil {
			return err
		}
	}
	f.SetPayment(a.Payment)
	return nil
}
