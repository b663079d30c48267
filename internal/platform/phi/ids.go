package phi

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrInvalidOwner is returned when a subject or owner resource id is not a
	// well-formed object id. PHI is never vaulted against such an owner.
	ErrInvalidOwner = errors.New("invalid subject or owner identifier")

	// ErrNotFound is returned by vault stores when an entry does not exist.
	ErrNotFound = errors.New("vault entry not found")

	// ErrConflict is returned by vault stores when an insert violates the
	// one-entry-per-subject constraint.
	ErrConflict = errors.New("vault entry already exists for subject")

	// ErrLengthMismatch is returned when findings and vault ids do not pair up.
	ErrLengthMismatch = errors.New("findings and vault ids differ in length")

	// ErrInvalidSpan is returned when a span does not fit its text or
	// overlaps another span.
	ErrInvalidSpan = errors.New("invalid span")

	// ErrInvalidPayload is returned when the identifying sub-object of a
	// record is not an object.
	ErrInvalidPayload = errors.New("structured phi must be an object")
)

// IDLength is the width of every vault, subject and owner id.
const IDLength = 24

// NewID returns a fresh 24-character lowercase hex object id.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ValidID reports whether id is a 24-character lowercase hex object id, the
// only id form the token grammar can carry.
func ValidID(id string) bool {
	if len(id) != IDLength || strings.ToLower(id) != id {
		return false
	}
	return primitive.IsValidObjectID(id)
}
