package phi

import "time"

// VaultEntry holds one vaulted free-text value. Entries are append-only:
// re-sanitizing a field creates new entries instead of updating old ones.
type VaultEntry struct {
	ID                string    `json:"id"`
	SubjectID         string    `json:"subject_id"`
	OwnerResourceType string    `json:"owner_resource_type"`
	OwnerResourceID   string    `json:"owner_resource_id"`
	FieldPath         string    `json:"field_path"`
	Value             string    `json:"value"`
	PHIType           string    `json:"phi_type"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Contact is the contact block of a structured vault entry.
type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// IsZero reports whether no contact field is set.
func (c *Contact) IsZero() bool {
	return c == nil || (c.Phone == "" && c.Email == "")
}

// Address is the postal address of a structured vault entry. Only State and
// Country ever leave the vault, through Profile.Location.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	District   string `json:"district,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsZero reports whether no address field is set.
func (a *Address) IsZero() bool {
	return a == nil || *a == Address{}
}

// StructuredPHI is the identifying sub-object carried by a subject record.
type StructuredPHI struct {
	LegalName        string   `json:"legal_name,omitempty"`
	PreferredName    string   `json:"preferred_name,omitempty"`
	FullDOB          string   `json:"full_dob,omitempty"`
	BirthYear        int      `json:"birth_year,omitempty"`
	Sex              string   `json:"sex,omitempty"`
	Contact          *Contact `json:"contact,omitempty"`
	Address          *Address `json:"address,omitempty"`
	RelationshipNote string   `json:"relationship_note,omitempty"`
	// Extra holds sub-object keys with no field above, and known keys whose
	// value had the wrong shape. They are vaulted as given.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// IsZero reports whether p carries no value at all.
func (p *StructuredPHI) IsZero() bool {
	if p == nil {
		return true
	}
	return p.LegalName == "" && p.PreferredName == "" && p.FullDOB == "" &&
		p.BirthYear == 0 && p.Sex == "" && p.Contact.IsZero() && p.Address.IsZero() &&
		p.RelationshipNote == "" && len(p.Extra) == 0
}

// StructuredEntry is the single structured vault record of a subject. The
// subject record only keeps its ID as a weak back-reference.
type StructuredEntry struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	StructuredPHI
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KnownIdentifiers returns the subject's on-file name variants, used to
// scope name redaction in free text.
func (e *StructuredEntry) KnownIdentifiers() []string {
	if e == nil {
		return nil
	}
	var names []string
	if e.LegalName != "" {
		names = append(names, e.LegalName)
	}
	if e.PreferredName != "" && e.PreferredName != e.LegalName {
		names = append(names, e.PreferredName)
	}
	return names
}

// Merge overwrites the entry's fields with every field set in p. Fields p
// leaves empty keep their stored value.
func (e *StructuredEntry) Merge(p *StructuredPHI) {
	if p == nil {
		return
	}
	if p.LegalName != "" {
		e.LegalName = p.LegalName
	}
	if p.PreferredName != "" {
		e.PreferredName = p.PreferredName
	}
	if p.FullDOB != "" {
		e.FullDOB = p.FullDOB
	}
	if p.BirthYear != 0 {
		e.BirthYear = p.BirthYear
	}
	if p.Sex != "" {
		e.Sex = p.Sex
	}
	if !p.Contact.IsZero() {
		c := *p.Contact
		e.Contact = &c
	}
	if !p.Address.IsZero() {
		a := *p.Address
		e.Address = &a
	}
	if p.RelationshipNote != "" {
		e.RelationshipNote = p.RelationshipNote
	}
	if len(p.Extra) > 0 {
		extra := make(map[string]interface{}, len(e.Extra)+len(p.Extra))
		for k, v := range e.Extra {
			extra[k] = v
		}
		for k, v := range p.Extra {
			extra[k] = v
		}
		e.Extra = extra
	}
}

// Profile is the generalized, low-risk view of a structured entry.
type Profile struct {
	Age       *int    `json:"age,omitempty"`
	BirthYear *int    `json:"birth_year,omitempty"`
	Sex       *string `json:"sex,omitempty"`
	Location  *string `json:"location,omitempty"`
}
