package keel

import "github.com/keelhq/keel/id"

// ID is the primary identifier type for all keel entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
