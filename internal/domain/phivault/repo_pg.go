package phivault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/phivault/internal/platform/db"
	"github.com/ehr/phivault/internal/platform/hipaa"
	"github.com/ehr/phivault/internal/platform/phi"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// -- Vault Entry Repository --

type vaultRepoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

// NewVaultRepo creates a vault entry repository. Values are sealed with enc
// before storage; pass nil to store them as-is.
func NewVaultRepo(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) VaultRepository {
	return &vaultRepoPG{pool: pool, encryptor: enc}
}

func (r *vaultRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const vaultEntryCols = `id, subject_id, owner_resource_type, owner_resource_id, field_path, value, phi_type, created_at, updated_at`

func (r *vaultRepoPG) AppendEntries(ctx context.Context, entries []*phi.VaultEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = phi.NewID()
		}
		e.CreatedAt, e.UpdatedAt = now, now
		sealed, err := seal(r.encryptor, e.Value, hipaa.VaultEntryValue.AAD(e.ID))
		if err != nil {
			return nil, fmt.Errorf("vault entry append: %w", err)
		}
		batch.Queue(`INSERT INTO phi_vault_entry (`+vaultEntryCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.ID, e.SubjectID, e.OwnerResourceType, e.OwnerResourceID, e.FieldPath, sealed, e.PHIType, e.CreatedAt, e.UpdatedAt)
	}

	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		br := r.conn(ctx).SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return mapPGError(err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("vault entry append: %w", err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

func (r *vaultRepoPG) GetEntry(ctx context.Context, id string) (*phi.VaultEntry, error) {
	e, err := scanVaultEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+vaultEntryCols+` FROM phi_vault_entry WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("vault entry get %s: %w", id, mapPGError(err))
	}
	if err := r.open(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *vaultRepoPG) ListEntriesByIDs(ctx context.Context, ids []string) ([]*phi.VaultEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+vaultEntryCols+` FROM phi_vault_entry WHERE id = ANY($1) ORDER BY created_at, id`, ids)
}

func (r *vaultRepoPG) ListEntriesByOwners(ctx context.Context, ownerResourceIDs []string) ([]*phi.VaultEntry, error) {
	if len(ownerResourceIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+vaultEntryCols+` FROM phi_vault_entry WHERE owner_resource_id = ANY($1) ORDER BY created_at, id`, ownerResourceIDs)
}

func (r *vaultRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*phi.VaultEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vault entry list: %w", err)
	}
	defer rows.Close()

	var entries []*phi.VaultEntry
	for rows.Next() {
		e, err := scanVaultEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("vault entry scan: %w", err)
		}
		if err := r.open(e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *vaultRepoPG) open(e *phi.VaultEntry) error {
	v, err := unseal(r.encryptor, e.Value, hipaa.VaultEntryValue.AAD(e.ID))
	if err != nil {
		return fmt.Errorf("vault entry %s: %w", e.ID, err)
	}
	e.Value = v
	return nil
}

func scanVaultEntry(row pgx.Row) (*phi.VaultEntry, error) {
	var e phi.VaultEntry
	err := row.Scan(&e.ID, &e.SubjectID, &e.OwnerResourceType, &e.OwnerResourceID,
		&e.FieldPath, &e.Value, &e.PHIType, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// -- Structured Repository --

type structuredRepoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

// NewStructuredRepo creates a structured vault repository. The whole
// payload document is sealed with enc; pass nil to store it as-is.
func NewStructuredRepo(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) StructuredRepository {
	return &structuredRepoPG{pool: pool, encryptor: enc}
}

func (r *structuredRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const structuredCols = `id, subject_id, payload, created_at, updated_at`

func (r *structuredRepoPG) GetStructuredByID(ctx context.Context, id string) (*phi.StructuredEntry, error) {
	e, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+structuredCols+` FROM phi_structured_vault WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("structured get %s: %w", id, err)
	}
	return e, nil
}

func (r *structuredRepoPG) GetStructuredBySubject(ctx context.Context, subjectID string) (*phi.StructuredEntry, error) {
	e, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+structuredCols+` FROM phi_structured_vault WHERE subject_id = $1`, subjectID))
	if err != nil {
		return nil, fmt.Errorf("structured get by subject %s: %w", subjectID, err)
	}
	return e, nil
}

func (r *structuredRepoPG) InsertStructured(ctx context.Context, e *phi.StructuredEntry) error {
	if e.ID == "" {
		e.ID = phi.NewID()
	}
	payload, err := r.sealPayload(e)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO phi_structured_vault (`+structuredCols+`) VALUES ($1,$2,$3,$4,$4)`,
		e.ID, e.SubjectID, payload, now)
	if err != nil {
		return fmt.Errorf("structured insert: %w", mapPGError(err))
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

func (r *structuredRepoPG) UpdateStructured(ctx context.Context, e *phi.StructuredEntry) error {
	payload, err := r.sealPayload(e)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE phi_structured_vault SET payload = $2, updated_at = $3 WHERE id = $1`,
		e.ID, payload, now)
	if err != nil {
		return fmt.Errorf("structured update: %w", mapPGError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("structured update %s: %w", e.ID, phi.ErrNotFound)
	}
	e.UpdatedAt = now
	return nil
}

func (r *structuredRepoPG) sealPayload(e *phi.StructuredEntry) (string, error) {
	doc, err := json.Marshal(e.StructuredPHI)
	if err != nil {
		return "", fmt.Errorf("structured encode: %w", err)
	}
	sealed, err := seal(r.encryptor, string(doc), hipaa.StructuredPayload.AAD(e.ID))
	if err != nil {
		return "", fmt.Errorf("structured seal: %w", err)
	}
	return sealed, nil
}

func (r *structuredRepoPG) scan(row pgx.Row) (*phi.StructuredEntry, error) {
	var e phi.StructuredEntry
	var payload string
	if err := row.Scan(&e.ID, &e.SubjectID, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, mapPGError(err)
	}
	doc, err := unseal(r.encryptor, payload, hipaa.StructuredPayload.AAD(e.ID))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(doc), &e.StructuredPHI); err != nil {
		return nil, fmt.Errorf("structured decode: %w", err)
	}
	return &e, nil
}

// -- Key rotation --

// Rekey seals every vault value and structured payload that is not under
// the rotator's current key again with that key. It runs in a single
// transaction and returns the number of rows rewritten.
func Rekey(ctx context.Context, pool *pgxpool.Pool, rot *hipaa.RotatingEncryptor) (int, error) {
	if rot == nil {
		return 0, fmt.Errorf("rekey: encryption is not enabled")
	}

	total := 0
	err := db.WithTx(ctx, pool, func(ctx context.Context) error {
		for _, col := range hipaa.SealedColumns() {
			n, err := rekeyColumn(ctx, db.TxFromContext(ctx), col, rot)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func rekeyColumn(ctx context.Context, q querier, col hipaa.SealedColumn, rot *hipaa.RotatingEncryptor) (int, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT id, %s FROM %s FOR UPDATE`, col.Column, col.Table))
	if err != nil {
		return 0, fmt.Errorf("rekey %s.%s: %w", col.Table, col.Column, err)
	}
	stale := make(map[string]string)
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			rows.Close()
			return 0, fmt.Errorf("rekey %s.%s: scan: %w", col.Table, col.Column, err)
		}
		if rot.NeedsReEncryption(value) {
			stale[id] = value
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rekey %s.%s: %w", col.Table, col.Column, err)
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = $2, updated_at = NOW() WHERE id = $1`, col.Table, col.Column)
	for id, value := range stale {
		resealed, err := rot.ReEncrypt(value, col.AAD(id))
		if err != nil {
			return 0, fmt.Errorf("rekey %s %s: %w", col.Table, id, err)
		}
		if _, err := q.Exec(ctx, update, id, resealed); err != nil {
			return 0, fmt.Errorf("rekey %s %s: %w", col.Table, id, err)
		}
	}
	return len(stale), nil
}

func seal(enc hipaa.FieldEncryptor, value, aad string) (string, error) {
	if enc == nil {
		return value, nil
	}
	return enc.Encrypt(value, aad)
}

func unseal(enc hipaa.FieldEncryptor, value, aad string) (string, error) {
	if enc == nil {
		return value, nil
	}
	plain, err := enc.Decrypt(value, aad)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}

func mapPGError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return phi.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", phi.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
