// Package entities provides type-safe constants for the tables that make up an epoch partition.
//
// Every partition schema holds the same set of tables, so the names here are schema-relative.
// QualifiedName binds an entity to a concrete partition schema.
//
// Usage Example:
//
//	query := fmt.Sprintf("SELECT transaction_id FROM %s WHERE signature = $1",
//	    entities.TransactionIDs.QualifiedName(schema))
//
// Thread Safety:
//
//	All functions and methods in this package are safe for concurrent use.
package entities

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Entity represents a table inside an epoch partition.
type Entity string

const (
	// TransactionIDs maps each signature to its surrogate transaction_id.
	// Append-only: rows are inserted once and never updated or deleted.
	// There is one table per epoch partition, so keys are unique within an epoch only: a
	// signature stored in two epochs has an independent transaction_id in each.
	TransactionIDs Entity = "transaction_ids"

	// TransactionBlockData holds the per-slot block data of a transaction, keyed by transaction_id.
	TransactionBlockData Entity = "transaction_blockdata"

	// Blocks holds one row per produced block. Target of the optional slot foreign key.
	Blocks Entity = "blocks"

	// ScanCursor holds a single row: the next slot the head scan has not completed yet.
	ScanCursor Entity = "scan_cursor"
)

// TransactionRawBlockData is the session-scoped temp table the copy stage writes into.
// It lives in pg_temp, never in a partition schema, so it is not an Entity.
const TransactionRawBlockData = "transaction_raw_blockdata"

// allEntities lists partition tables in creation order.
var allEntities = []Entity{
	TransactionIDs,
	TransactionBlockData,
	Blocks,
	ScanCursor,
}

var entitySet map[Entity]bool

func init() {
	entitySet = make(map[Entity]bool, len(allEntities))
	for _, e := range allEntities {
		if e == "" {
			panic("entities: empty entity name detected in allEntities")
		}
		if strings.ContainsAny(string(e), " .\"") {
			panic(fmt.Sprintf("entities: entity name %q is not a bare identifier", e))
		}
		entitySet[e] = true
	}
}

// String returns the entity name as a string.
func (e Entity) String() string {
	return string(e)
}

// TableName returns the schema-relative table name.
func (e Entity) TableName() string {
	return string(e)
}

// QualifiedName returns the quoted "schema"."table" reference for a partition schema.
//
// Example:
//
//	entities.TransactionIDs.QualifiedName("rpc2a_epoch_592") // "rpc2a_epoch_592"."transaction_ids"
func (e Entity) QualifiedName(schema string) string {
	return pgx.Identifier{schema, string(e)}.Sanitize()
}

// IsValid returns true if this entity is in the list of known entities.
func (e Entity) IsValid() bool {
	return entitySet[e]
}

// FromString converts a string to an Entity and validates it.
func FromString(s string) (Entity, error) {
	entity := Entity(s)
	if !entity.IsValid() {
		return "", fmt.Errorf("unknown entity %q, valid entities: %s", s, validEntitiesString())
	}
	return entity, nil
}

// All returns a copy of all partition tables in creation order.
func All() []Entity {
	result := make([]Entity, len(allEntities))
	copy(result, allEntities)
	return result
}

func validEntitiesString() string {
	names := make([]string, len(allEntities))
	for i, e := range allEntities {
		names[i] = e.String()
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
