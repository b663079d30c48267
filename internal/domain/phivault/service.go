// Package phivault wires the PHI engine to storage and exposes the
// operations the record layer calls: sanitize on write, de-identify and
// generalize on read.
package phivault

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/ehr/phivault/internal/platform/recognizer"
)

const defaultConcurrency = 4

// Options tunes a Service.
type Options struct {
	// Language is passed to the recognizer with every field.
	Language string
	// Concurrency bounds how many fields of one record are sanitized at once.
	Concurrency int
}

type Service struct {
	vault       VaultRepository
	structured  StructuredRepository
	recognizer  recognizer.Recognizer
	filter      *phi.Filter
	writer      *phi.Writer
	language    string
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService builds the service. rec is normally a *recognizer.Guarded so
// the configured failure policy applies.
func NewService(vault VaultRepository, structured StructuredRepository, rec recognizer.Recognizer, filter *phi.Filter, opts Options, logger zerolog.Logger) *Service {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	return &Service{
		vault:       vault,
		structured:  structured,
		recognizer:  rec,
		filter:      filter,
		writer:      phi.NewWriter(vault),
		language:    opts.Language,
		concurrency: opts.Concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// SanitizeResult is a sanitized field and the vault entries it references.
type SanitizeResult struct {
	Text     string   `json:"text"`
	VaultIDs []string `json:"vault_ids"`
}

// Detect runs recognition, overlap resolution and filtering on one field
// and returns the findings to vault. Nothing is stored.
func (s *Service) Detect(ctx context.Context, text, fieldPath string, knownIdentifiers []string) ([]phi.Finding, error) {
	if text == "" {
		return nil, nil
	}
	spans, err := s.recognizer.Analyze(ctx, text, s.language)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", fieldPath, err)
	}
	return s.filter.Apply(text, phi.ResolveOverlaps(spans), fieldPath, knownIdentifiers), nil
}

// DetectAndFilter sanitizes one field: detected PHI is vaulted under owner
// and replaced by vault reference tokens. The owner is validated before
// anything else happens. A storage failure leaves the text unsubstituted
// and is returned.
func (s *Service) DetectAndFilter(ctx context.Context, owner phi.Owner, fieldPath, text string, knownIdentifiers []string) (*SanitizeResult, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	findings, err := s.Detect(ctx, text, fieldPath, knownIdentifiers)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		return &SanitizeResult{Text: text, VaultIDs: []string{}}, nil
	}

	ids, err := s.writer.Write(ctx, owner, findings)
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", fieldPath, err)
	}
	sanitized, err := phi.Substitute(text, findings, ids)
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", fieldPath, err)
	}

	s.logger.Debug().
		Str("subject_id", owner.SubjectID).
		Str("resource_id", owner.ResourceID).
		Str("field_path", fieldPath).
		Int("findings", len(findings)).
		Msg("field sanitized")
	return &SanitizeResult{Text: sanitized, VaultIDs: ids}, nil
}

// RecordResult is a sanitized record. StructuredID is the weak reference to
// the subject's structured vault entry, empty when the record carried none.
type RecordResult struct {
	Record       map[string]interface{} `json:"record"`
	VaultIDs     []string               `json:"vault_ids"`
	StructuredID string                 `json:"structured_id,omitempty"`
}

// SanitizeRecord runs the full write path on a record: the identifying
// sub-object is separated, every string field is sanitized, and the
// sub-object is upserted into the structured vault last, so a rejected
// record leaves the structured entry untouched. Non-string values pass
// through. When knownIdentifiers is empty the subject's on-file names and
// the names in the separated sub-object are used. Any fatal field error
// rejects the whole record.
func (s *Service) SanitizeRecord(ctx context.Context, owner phi.Owner, knownStructuredID string, record map[string]interface{}, knownIdentifiers []string) (*RecordResult, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	sep, err := phi.SeparateStructured(record)
	if err != nil {
		return nil, err
	}
	if len(knownIdentifiers) == 0 {
		knownIdentifiers = s.KnownIdentifiers(ctx, owner.SubjectID)
		if sep.PHI != nil {
			knownIdentifiers = appendNames(knownIdentifiers, sep.PHI.LegalName, sep.PHI.PreferredName)
		}
	}

	out := copyValue(sep.Sanitized).(map[string]interface{})
	fields := stringFields(out)
	results := make([]*SanitizeResult, len(fields))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range fields {
		g.Go(func() error {
			res, err := s.DetectAndFilter(gctx, owner, f.path, f.value, knownIdentifiers)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	structuredID := knownStructuredID
	if sep.PHI != nil {
		structuredID, err = phi.UpsertStructured(ctx, s.structured, owner.SubjectID, knownStructuredID, sep.PHI)
		if err != nil {
			return nil, err
		}
	}

	ids := []string{}
	for i, f := range fields {
		f.set(results[i].Text)
		ids = append(ids, results[i].VaultIDs...)
	}
	return &RecordResult{Record: out, VaultIDs: ids, StructuredID: structuredID}, nil
}

func appendNames(names []string, more ...string) []string {
	for _, n := range more {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

// Deidentify replaces the vault references in text with placeholders. The
// referenced entries are fetched in one batch; a failed fetch is logged and
// every reference degrades to the generic placeholder.
func (s *Service) Deidentify(ctx context.Context, text string) string {
	ids := phi.ReferencedIDs(text)
	if len(ids) == 0 {
		return text
	}
	return phi.Deidentify(text, s.fetchEntries(ctx, ids))
}

// DeidentifyRecord de-identifies every string field of record with a single
// batch fetch. The input is not modified.
func (s *Service) DeidentifyRecord(ctx context.Context, record map[string]interface{}) map[string]interface{} {
	out := copyValue(record).(map[string]interface{})
	fields := stringFields(out)

	seen := make(map[string]struct{})
	var ids []string
	for _, f := range fields {
		for _, id := range phi.ReferencedIDs(f.value) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return out
	}

	entries := s.fetchEntries(ctx, ids)
	for _, f := range fields {
		if phi.ContainsTokens(f.value) {
			f.set(phi.Deidentify(f.value, entries))
		}
	}
	return out
}

func (s *Service) fetchEntries(ctx context.Context, ids []string) []*phi.VaultEntry {
	entries, err := s.vault.ListEntriesByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("references", len(ids)).
			Msg("vault lookup failed, de-identifying with generic placeholders")
		return nil
	}
	return entries
}

// Separation is a record with its identifying sub-object removed and the
// id of the structured vault entry that now holds it.
type Separation struct {
	Record       map[string]interface{} `json:"record"`
	StructuredID string                 `json:"structured_id,omitempty"`
}

// SeparateStructuredPHI removes the identifying sub-object from record and,
// when it holds any value, upserts it as the subject's structured entry.
// knownID is the back-reference already stored on the subject, if any.
func (s *Service) SeparateStructuredPHI(ctx context.Context, subjectID, knownID string, record map[string]interface{}) (*Separation, error) {
	if !phi.ValidID(subjectID) {
		return nil, fmt.Errorf("%w: subject_id %q", phi.ErrInvalidOwner, subjectID)
	}
	sep, err := phi.SeparateStructured(record)
	if err != nil {
		return nil, err
	}
	if sep.PHI == nil {
		return &Separation{Record: sep.Sanitized, StructuredID: knownID}, nil
	}

	id, err := phi.UpsertStructured(ctx, s.structured, subjectID, knownID, sep.PHI)
	if err != nil {
		return nil, err
	}
	return &Separation{Record: sep.Sanitized, StructuredID: id}, nil
}

// UpsertStructured stores payload as the subject's structured entry.
func (s *Service) UpsertStructured(ctx context.Context, subjectID, knownID string, payload *phi.StructuredPHI) (string, error) {
	return phi.UpsertStructured(ctx, s.structured, subjectID, knownID, payload)
}

// KnownIdentifiers returns the subject's on-file names for scoping name
// redaction. A missing entry or a lookup failure yields none.
func (s *Service) KnownIdentifiers(ctx context.Context, subjectID string) []string {
	entry, err := s.structured.GetStructuredBySubject(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, phi.ErrNotFound) {
			s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("known identifier lookup failed")
		}
		return nil
	}
	return entry.KnownIdentifiers()
}

// Demographics returns the generalized profile of a subject.
func (s *Service) Demographics(ctx context.Context, subjectID string) (phi.Profile, error) {
	if !phi.ValidID(subjectID) {
		return phi.Profile{}, fmt.Errorf("%w: subject_id %q", phi.ErrInvalidOwner, subjectID)
	}
	entry, err := s.structured.GetStructuredBySubject(ctx, subjectID)
	if err != nil {
		return phi.Profile{}, err
	}
	return phi.ComputeDemographics(entry, s.now()), nil
}

// RevealEntry returns a vault entry with its raw value.
func (s *Service) RevealEntry(ctx context.Context, id string) (*phi.VaultEntry, error) {
	if !phi.ValidID(id) {
		return nil, fmt.Errorf("%w: id %q", phi.ErrNotFound, id)
	}
	return s.vault.GetEntry(ctx, id)
}
