package phi

import (
	"strings"
	"time"
)

// ComputeDemographics generalizes a structured entry: exact date of birth
// becomes an age and a birth year, the address becomes state and country.
// Nothing finer than that leaves the vault.
func ComputeDemographics(e *StructuredEntry, now time.Time) Profile {
	var p Profile
	if e == nil {
		return p
	}

	if dob, ok := parseWith(strings.TrimSpace(e.FullDOB), dobLayouts); ok {
		age := now.Year() - dob.Year()
		if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
			age--
		}
		year := dob.Year()
		p.Age = &age
		p.BirthYear = &year
	} else if e.BirthYear > 0 {
		age := now.Year() - e.BirthYear
		year := e.BirthYear
		p.Age = &age
		p.BirthYear = &year
	}

	if sex := strings.TrimSpace(e.Sex); sex != "" {
		p.Sex = &sex
	}

	if loc := location(e.Address); loc != "" {
		p.Location = &loc
	}
	return p
}

func location(a *Address) string {
	if a == nil {
		return ""
	}
	state := strings.TrimSpace(a.State)
	country := strings.TrimSpace(a.Country)
	switch {
	case state != "" && country != "":
		return state + ", " + country
	case state != "":
		return state
	default:
		return country
	}
}
