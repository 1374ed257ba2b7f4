package registration

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"munportal/internal/api"
)

var phoneRE = regexp.MustCompile(`^\+?[0-9]{10,13}$`)

var errProofReference = validation.NewError("validation_proof_reference",
	"Screenshot must be an uploaded image or an https link")

// ValidationError holds field scoped messages for one step.
type ValidationError struct {
	Step   Step
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", e.Step, strings.Join(parts, "; "))
}

// flatten turns nested ozzo errors into dotted field paths.
func flatten(prefix string, err error, into map[string]string) {
	var errs validation.Errors
	if errors.As(err, &errs) {
		for k, v := range errs {
			if v == nil {
				continue
			}
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, v, into)
		}
		return
	}
	if prefix == "" {
		prefix = "form"
	}
	into[prefix] = err.Error()
}

func stepError(step Step, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Fields: fields}
}

func validatePersonal(p api.PersonalDetails) error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.FullName,
			validation.Required.Error("Full name is required"),
			validation.Length(2, 100)),
		validation.Field(&p.Email,
			validation.Required.Error("Email is required"),
			is.EmailFormat.Error("Enter a valid email address")),
		validation.Field(&p.Phone,
			validation.Required.Error("Phone number is required"),
			validation.Match(phoneRE).Error("Enter a valid phone number")),
		validation.Field(&p.Institution,
			validation.Required.Error("Institution is required"),
			validation.Length(2, 150)),
		validation.Field(&p.YearOfStudy,
			validation.Required.Error("Year of study is required")),
		validation.Field(&p.TargetAudience,
			validation.Required.Error("Select school or college"),
			validation.In(toAny(TargetAudiences)...).Error("Select school or college")),
		validation.Field(&p.Experience, validation.Length(0, 1000)),
	)
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	flatten("", err, fields)
	return stepError(StepPersonalDetails, fields)
}

func validatePreference(p api.CommitteePreference) error {
	c, known := LookupCommittee(p.Committee)
	press := known && c.Press

	return validation.ValidateStruct(&p,
		validation.Field(&p.Committee,
			validation.Required.Error("Select a committee"),
			validation.In(committeeCodes()...).Error("Unknown committee")),
		validation.Field(&p.Countries,
			validation.When(press,
				validation.Empty.Error("International Press takes a role, not countries"),
			).Else(validation.When(known,
				validation.Required.Error("Choose three countries"),
				validation.Length(CountriesPerPreference, CountriesPerPreference).Error("Choose three countries"),
				validation.Each(validation.Required.Error("Country is required")),
			))),
		validation.Field(&p.Role,
			validation.When(press,
				validation.Required.Error("Choose a press role"),
				validation.In(toAny(PressRoles)...).Error("Unknown press role"),
			).Else(validation.Empty.Error("Only International Press takes a role"))),
	)
}

func validatePreferences(prefs []api.CommitteePreference) error {
	fields := map[string]string{}

	if len(prefs) != RankedPreferences {
		fields["preferences"] = fmt.Sprintf("Rank exactly %d committees", RankedPreferences)
		return stepError(StepCommitteePreferences, fields)
	}

	for i, p := range prefs {
		if err := validatePreference(p); err != nil {
			flatten(fmt.Sprintf("preference%d", i+1), err, fields)
		}
	}

	// Ranked committees must be pairwise distinct.
	seen := make(map[string]int, len(prefs))
	for i, p := range prefs {
		if p.Committee == "" {
			continue
		}
		if first, dup := seen[p.Committee]; dup {
			fields[fmt.Sprintf("preference%d.committee", i+1)] =
				fmt.Sprintf("%s is already your preference %d", p.Committee, first)
			continue
		}
		seen[p.Committee] = i + 1
	}

	return stepError(StepCommitteePreferences, fields)
}

func validatePayment(p api.Payment) error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.TransactionID,
			validation.Required.Error("Transaction id is required"),
			validation.Length(6, 40).Error("Transaction id must be 6 to 40 characters"),
			is.Alphanumeric.Error("Transaction id must be alphanumeric")),
		validation.Field(&p.Amount,
			validation.Required.Error("Amount is required"),
			validation.Min(1).Error("Amount must be positive")),
		validation.Field(&p.Screenshot,
			validation.Required.Error("Upload the payment screenshot"),
			validation.By(proofReference)),
	)
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	flatten("", err, fields)
	return stepError(StepPayment, fields)
}

func proofReference(v any) error {
	s, _ := v.(string)
	if s == "" || api.IsProofReference(s) {
		return nil
	}
	return errProofReference
}

// ValidateStep runs the validation of step alone.
func ValidateStep(step Step, reg api.Registration) error {
	switch step {
	case StepPersonalDetails:
		return validatePersonal(reg.PersonalDetails)
	case StepCommitteePreferences:
		return validatePreferences(reg.Preferences)
	case StepPayment:
		return validatePayment(reg.Payment)
	default:
		return nil
	}
}

// ValidateAll runs every step in order and returns the first failure.
func ValidateAll(reg api.Registration) error {
	for _, s := range []Step{StepPersonalDetails, StepCommitteePreferences, StepPayment} {
		if err := ValidateStep(s, reg); err != nil {
			return err
		}
	}
	return nil
}
