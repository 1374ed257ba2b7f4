package registration

// Committee is one simulated body delegates can rank.
type Committee struct {
	Code string
	Name string
	// Press committees allocate roles instead of countries.
	Press bool
}

// PressCode is the International Press committee.
const PressCode = "IP"

var Committees = []Committee{
	{Code: "UNGA-DISEC", Name: "Disarmament and International Security Committee"},
	{Code: "UNSC", Name: "United Nations Security Council"},
	{Code: "UNHRC", Name: "United Nations Human Rights Council"},
	{Code: "WHO", Name: "World Health Organization"},
	{Code: "UNCSW", Name: "Commission on the Status of Women"},
	{Code: "AIPPM", Name: "All India Political Parties Meet"},
	{Code: PressCode, Name: "International Press", Press: true},
}

var PressRoles = []string{"journalist", "photographer", "caricaturist"}

var TargetAudiences = []string{"school", "college"}

// CountriesPerPreference is how many allocation choices a regular
// committee preference carries.
const CountriesPerPreference = 3

// RankedPreferences is the number of committee choices per registration.
const RankedPreferences = 3

func LookupCommittee(code string) (Committee, bool) {
	for _, c := range Committees {
		if c.Code == code {
			return c, true
		}
	}
	return Committee{}, false
}

func committeeCodes() []any {
	out := make([]any, len(Committees))
	for i, c := range Committees {
		out[i] = c.Code
	}
	return out
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
