package phi

import (
	"context"
	"fmt"
	"strings"
)

// EntryAppender is the part of the vault store the writer needs. It must
// persist every entry and return the generated ids in input order.
type EntryAppender interface {
	AppendEntries(ctx context.Context, entries []*VaultEntry) ([]string, error)
}

// Owner identifies the subject and the resource a field belongs to.
type Owner struct {
	SubjectID    string `json:"subject_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// Validate rejects owners whose ids are not object ids.
func (o Owner) Validate() error {
	if !ValidID(o.SubjectID) {
		return fmt.Errorf("%w: subject_id %q", ErrInvalidOwner, o.SubjectID)
	}
	if !ValidID(o.ResourceID) {
		return fmt.Errorf("%w: resource_id %q", ErrInvalidOwner, o.ResourceID)
	}
	if strings.TrimSpace(o.ResourceType) == "" {
		return fmt.Errorf("%w: resource_type is required", ErrInvalidOwner)
	}
	return nil
}

// Writer vaults findings through an EntryAppender.
type Writer struct {
	store EntryAppender
}

// NewWriter creates a writer over store.
func NewWriter(store EntryAppender) *Writer {
	return &Writer{store: store}
}

// Write appends one vault entry per finding and returns their ids in the
// order of findings. Values are not de-duplicated, so writing the same text
// twice vaults it twice.
func (w *Writer) Write(ctx context.Context, owner Owner, findings []Finding) ([]string, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		return nil, nil
	}

	entries := make([]*VaultEntry, len(findings))
	for i, f := range findings {
		entries[i] = &VaultEntry{
			SubjectID:         owner.SubjectID,
			OwnerResourceType: owner.ResourceType,
			OwnerResourceID:   owner.ResourceID,
			FieldPath:         f.FieldPath,
			Value:             f.Value,
			PHIType:           f.EntityType,
		}
	}

	ids, err := w.store.AppendEntries(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("vault append: %w", err)
	}
	if len(ids) != len(entries) {
		return nil, fmt.Errorf("vault append: %w: stored %d of %d entries", ErrLengthMismatch, len(ids), len(entries))
	}
	return ids, nil
}
