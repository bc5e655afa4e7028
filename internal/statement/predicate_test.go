package statement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/schema"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

func usersModel(t *testing.T) *schema.Model {
	t.Helper()
	return schema.NewModel(&driver.TableMeta{
		Name: "users",
		Columns: []driver.ColumnMeta{
			{Name: "email", TypeText: "text", Kind: driver.KindRegular},
			{Name: "id", TypeText: "int", Kind: driver.KindPartitionKey, Position: 0},
			{Name: "name", TypeText: "text", Kind: driver.KindRegular},
		},
	})
}

func eventsModel(t *testing.T) *schema.Model {
	t.Helper()
	return schema.NewModel(&driver.TableMeta{
		Name: "events",
		Columns: []driver.ColumnMeta{
			{Name: "payload", TypeText: "text", Kind: driver.KindRegular},
			{Name: "day", TypeText: "text", Kind: driver.KindPartitionKey, Position: 1},
			{Name: "tenant", TypeText: "text", Kind: driver.KindPartitionKey, Position: 0},
			{Name: "ts", TypeText: "timestamp", Kind: driver.KindClustering, Position: 0},
		},
	})
}

func TestCompileConditionsEquality(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, false, "read")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "id", preds[0].Column)
	assert.Equal(t, OpEQ, preds[0].Op)
	assert.Equal(t, []interface{}{int64(1)}, preds[0].Values)
}

func TestCompileConditionsMembership(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{
		"id": []interface{}{1, 3, 5},
	}, false, "read")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, OpIN, preds[0].Op)
	assert.Equal(t, []interface{}{int64(1), int64(3), int64(5)}, preds[0].Values)
}

func TestCompileConditionsCanonicalOrder(t *testing.T) {
	m := eventsModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{
		"payload": "x",
		"tenant":  "acme",
		"day":     "2026-08-30",
	}, false, "read")
	require.NoError(t, err)
	require.Len(t, preds, 3)

	// Partition key by position, then regular columns by name.
	assert.Equal(t, "tenant", preds[0].Column)
	assert.Equal(t, "day", preds[1].Column)
	assert.Equal(t, "payload", preds[2].Column)
}

func TestCompileConditionsUnknownColumn(t *testing.T) {
	m := usersModel(t)

	_, err := CompileConditions(m, map[string]interface{}{
		"zip": 1, "age": 2,
	}, false, "read")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrUnknownColumn)
	// The lexicographically smallest unknown name is reported.
	assert.Contains(t, err.Error(), "age")
}

func TestCompileConditionsEmpty(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, nil, true, "read")
	require.NoError(t, err)
	assert.Empty(t, preds)

	_, err = CompileConditions(m, nil, false, "delete")
	assert.ErrorIs(t, err, cruderr.ErrUnscopedMutation)
}

func TestCompileConditionsBadValue(t *testing.T) {
	m := usersModel(t)

	_, err := CompileConditions(m, map[string]interface{}{"id": "not-a-number"}, false, "read")
	require.Error(t, err)
	assert.True(t, cruderr.IsValidation(err))
}

func TestWhereClause(t *testing.T) {
	preds := []Predicate{
		{Column: "tenant", Op: OpEQ, Values: []interface{}{"acme"}},
		{Column: "id", Op: OpIN, Values: []interface{}{int64(1), int64(2)}},
	}

	where, params := whereClause(preds, nil)
	assert.Equal(t, " WHERE tenant = ? AND id IN (?, ?)", where)
	assert.Equal(t, []interface{}{"acme", int64(1), int64(2)}, params)
}
