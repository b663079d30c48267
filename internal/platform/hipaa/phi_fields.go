package hipaa

// SealedColumn names a vault column that is stored encrypted.
type SealedColumn struct {
	Table  string
	Column string
}

// Vault tables and the columns sealed at rest. Owner and subject ids, the
// field path and the entity type stay in the clear so they can be indexed.
var (
	VaultEntryValue   = SealedColumn{Table: "phi_vault_entry", Column: "value"}
	StructuredPayload = SealedColumn{Table: "phi_structured_vault", Column: "payload"}
)

// SealedColumns lists every encrypted vault column, in rotation order.
func SealedColumns() []SealedColumn {
	return []SealedColumn{VaultEntryValue, StructuredPayload}
}

// AAD binds a ciphertext to one row of the column. A value copied into
// another row or column no longer decrypts.
func (c SealedColumn) AAD(rowID string) string {
	return c.Table + "." + c.Column + ":" + rowID
}
