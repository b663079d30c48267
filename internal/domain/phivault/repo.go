package phivault

import (
	"context"

	"github.com/ehr/phivault/internal/platform/phi"
)

// VaultRepository stores free-text vault entries. AppendEntries satisfies
// phi.EntryAppender.
type VaultRepository interface {
	AppendEntries(ctx context.Context, entries []*phi.VaultEntry) ([]string, error)
	GetEntry(ctx context.Context, id string) (*phi.VaultEntry, error)
	ListEntriesByIDs(ctx context.Context, ids []string) ([]*phi.VaultEntry, error)
	ListEntriesByOwners(ctx context.Context, ownerResourceIDs []string) ([]*phi.VaultEntry, error)
}

// StructuredRepository stores the one-per-subject structured entries.
type StructuredRepository interface {
	phi.StructuredStore
}
