package domain

import "strings"

// Address is a structured postal address.
type Address struct {
	FullName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// MissingFields lists required fields that are empty.
func (a Address) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("full_name", a.FullName)
	check("line1", a.Line1)
	check("city", a.City)
	check("postal_code", a.PostalCode)
	check("country", a.Country)
	return missing
}

// Normalize trims every field and upper-cases the country code.
func (a Address) Normalize() Address {
	return Address{
		FullName:   strings.TrimSpace(a.FullName),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}
