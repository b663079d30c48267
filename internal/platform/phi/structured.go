package phi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StructuredKey is the record key that carries the identifying sub-object.
const StructuredKey = "phi"

// Separation is a record split into its non-identifying remainder and, when
// the sub-object holds any real value, its structured PHI payload.
type Separation struct {
	Sanitized map[string]interface{}
	PHI       *StructuredPHI
}

// SeparateStructured removes the identifying sub-object from record. The
// input map is not modified. PHI is nil when the sub-object is absent or
// carries no value under HasValue. Keys without a StructuredPHI field, and
// known keys holding a value of the wrong shape, are kept in PHI.Extra so
// nothing removed from the record is lost. A sub-object that is not an
// object fails with ErrInvalidPayload.
func SeparateStructured(record map[string]interface{}) (*Separation, error) {
	sanitized := make(map[string]interface{}, len(record))
	for k, v := range record {
		if k == StructuredKey {
			continue
		}
		sanitized[k] = v
	}

	raw, ok := record[StructuredKey]
	if !ok || !HasValue(raw) {
		return &Separation{Sanitized: sanitized}, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidPayload, raw)
	}

	payload := decodeStructured(obj)
	if payload.IsZero() {
		return &Separation{Sanitized: sanitized}, nil
	}
	return &Separation{Sanitized: sanitized, PHI: payload}, nil
}

func decodeStructured(obj map[string]interface{}) *StructuredPHI {
	p := &StructuredPHI{}
	for k, v := range obj {
		if !HasValue(v) {
			continue
		}
		if p.set(k, v) {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]interface{})
		}
		p.Extra[k] = v
	}
	return p
}

// set assigns v to the field tagged k and reports whether it fit.
func (p *StructuredPHI) set(k string, v interface{}) bool {
	switch k {
	case "legal_name":
		return setString(&p.LegalName, v)
	case "preferred_name":
		return setString(&p.PreferredName, v)
	case "full_dob":
		return setString(&p.FullDOB, v)
	case "sex":
		return setString(&p.Sex, v)
	case "relationship_note":
		return setString(&p.RelationshipNote, v)
	case "birth_year":
		year, ok := toYear(v)
		if ok {
			p.BirthYear = year
		}
		return ok
	case "contact":
		var c Contact
		if !decodeStrict(v, &c) || c.IsZero() {
			return false
		}
		p.Contact = &c
		return true
	case "address":
		var a Address
		if !decodeStrict(v, &a) || a.IsZero() {
			return false
		}
		p.Address = &a
		return true
	default:
		return false
	}
}

func setString(dst *string, v interface{}) bool {
	s, ok := v.(string)
	if ok {
		*dst = s
	}
	return ok
}

// toYear accepts a positive whole number, given as a number or a numeric
// string.
func toYear(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == math.Trunc(t) && t < math.MaxInt32 {
			return int(t), true
		}
	case int:
		if t > 0 {
			return t, true
		}
	case json.Number:
		if n, err := strconv.Atoi(t.String()); err == nil && n > 0 {
			return n, true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// decodeStrict decodes an object into dst, failing on unknown keys and
// mistyped values.
func decodeStrict(v interface{}, dst interface{}) bool {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst) == nil
}

// HasValue reports whether v holds any real value: a non-blank string, a
// number, a bool, or an array or object containing such a value.
func HasValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []interface{}:
		for _, e := range t {
			if HasValue(e) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range t {
			if HasValue(e) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		for _, e := range t {
			if HasValue(e) {
				return true
			}
		}
		return false
	case map[string]string:
		for _, e := range t {
			if HasValue(e) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// StructuredStore persists the one-per-subject structured vault entries.
type StructuredStore interface {
	GetStructuredByID(ctx context.Context, id string) (*StructuredEntry, error)
	GetStructuredBySubject(ctx context.Context, subjectID string) (*StructuredEntry, error)
	InsertStructured(ctx context.Context, e *StructuredEntry) error
	UpdateStructured(ctx context.Context, e *StructuredEntry) error
}

// UpsertStructured stores payload as the subject's structured entry and
// returns its id. A known vault id is updated in place; otherwise the entry
// is looked up by subject and updated, or inserted when none exists.
// Uniqueness per subject is enforced by the store: an insert that loses a
// race with a concurrent writer is retried once as an update.
func UpsertStructured(ctx context.Context, store StructuredStore, subjectID, knownID string, payload *StructuredPHI) (string, error) {
	if !ValidID(subjectID) {
		return "", fmt.Errorf("%w: subject_id %q", ErrInvalidOwner, subjectID)
	}
	if payload == nil {
		return "", fmt.Errorf("upsert structured phi: empty payload")
	}

	if knownID != "" {
		existing, err := store.GetStructuredByID(ctx, knownID)
		switch {
		case err == nil && existing.SubjectID == subjectID:
			return updateStructured(ctx, store, existing, payload)
		case err != nil && !errors.Is(err, ErrNotFound):
			return "", fmt.Errorf("get structured phi %s: %w", knownID, err)
		}
		// A dangling or foreign back-reference falls through to the subject lookup.
	}

	existing, err := store.GetStructuredBySubject(ctx, subjectID)
	if err == nil {
		return updateStructured(ctx, store, existing, payload)
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("get structured phi by subject: %w", err)
	}

	entry := &StructuredEntry{ID: NewID(), SubjectID: subjectID}
	entry.Merge(payload)
	err = store.InsertStructured(ctx, entry)
	if err == nil {
		return entry.ID, nil
	}
	if !errors.Is(err, ErrConflict) {
		return "", fmt.Errorf("insert structured phi: %w", err)
	}

	existing, err = store.GetStructuredBySubject(ctx, subjectID)
	if err != nil {
		return "", fmt.Errorf("get structured phi after conflict: %w", err)
	}
	return updateStructured(ctx, store, existing, payload)
}

func updateStructured(ctx context.Context, store StructuredStore, existing *StructuredEntry, payload *StructuredPHI) (string, error) {
	existing.Merge(payload)
	if err := store.UpdateStructured(ctx, existing); err != nil {
		return "", fmt.Errorf("update structured phi %s: %w", existing.ID, err)
	}
	return existing.ID, nil
}
