package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns prefix-<uuid v7>. v7 ids sort by creation time, which keeps
// commit ids roughly ordered in the ledger.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
