package db

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// Under repeatable read, a transaction that blocked on another's row lock
// aborts with a serialization failure when the winner commits. Document
// transactions must run read committed so the loser re-reads the committed
// row and the status guard turns the race into a visible conflict.
func TestDocumentTxRunsReadCommitted(t *testing.T) {
	require.Equal(t, pgx.ReadCommitted, TxOptions.IsoLevel)
}
