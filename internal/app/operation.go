package app

import (
	"strings"

	"vaultedge/internal/database"
)

// Operation tracks a CLI command that may change stored data.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the journal).
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation string) *Operation {
	return &Operation{
		Operation: operation,
		Status:    database.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the journal.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// SetParameters records the command's arguments, space separated.
func (op *Operation) SetParameters(params ...string) {
	op.Parameters = strings.Join(params, " ")
}

// Observe marks the operation failed when err is non-nil and returns err.
func (op *Operation) Observe(err error) error {
	if err != nil {
		op.Status = database.StatusError
	}
	return err
}
