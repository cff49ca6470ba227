package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, action := range []string{"trade", "modify", "delete"} {
		op := &Operation{
			TraceID:   "trace-" + action,
			Action:    action,
			Ticket:    "1001",
			Status:    "success",
			Payload:   datatypes.JSON(`{"ticket":"1001"}`),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Record(ctx, op))
		assert.NotEmpty(t, op.ID)
	}
	require.NoError(t, s.Record(ctx, &Operation{TraceID: "x", Action: "delete_all", Status: "no_trades_to_close", CreatedAt: base.Add(time.Hour)}))

	ops, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "delete_all", ops[0].Action)
	assert.Equal(t, "delete", ops[1].Action)

	byTicket, err := s.ListByTicket(ctx, "1001", 0)
	require.NoError(t, err)
	require.Len(t, byTicket, 3)
	assert.Equal(t, "trade", byTicket[2].Action)
	assert.JSONEq(t, `{"ticket":"1001"}`, string(byTicket[2].Payload))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
	_, err = FromDB(nil)
	assert.Error(t, err)
}
