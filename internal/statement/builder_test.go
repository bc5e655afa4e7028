package statement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

func TestBuildInsert(t *testing.T) {
	m := usersModel(t)

	stmt, err := BuildInsert(m, map[string]interface{}{
		"name": "John", "id": 1,
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (id, name) VALUES (?, ?)", stmt.Query)
	assert.Equal(t, []interface{}{int64(1), "John"}, stmt.Params)
	assert.False(t, stmt.Idempotent)
}

func TestBuildInsertTTL(t *testing.T) {
	m := usersModel(t)

	stmt, err := BuildInsert(m, map[string]interface{}{"id": 1}, WriteOptions{TTL: 90 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (id) VALUES (?) USING TTL ?", stmt.Query)
	assert.Equal(t, []interface{}{int64(1), 90}, stmt.Params)
}

func TestBuildInsertMissingPrimaryKey(t *testing.T) {
	m := usersModel(t)

	_, err := BuildInsert(m, map[string]interface{}{"name": "John"}, WriteOptions{})
	assert.ErrorIs(t, err, cruderr.ErrMissingPrimaryKey)

	// Composite keys require every component.
	ev := eventsModel(t)
	_, err = BuildInsert(ev, map[string]interface{}{
		"tenant": "acme", "ts": time.Now(),
	}, WriteOptions{})
	assert.ErrorIs(t, err, cruderr.ErrMissingPrimaryKey)
}

func TestBuildInsertUnknownColumn(t *testing.T) {
	m := usersModel(t)

	_, err := BuildInsert(m, map[string]interface{}{"id": 1, "nickname": "j"}, WriteOptions{})
	assert.ErrorIs(t, err, cruderr.ErrUnknownColumn)
}

func TestBuildSelect(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, true, "read")
	require.NoError(t, err)

	stmt, err := BuildSelect(m, preds, SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE id = ?", stmt.Query)
	assert.Equal(t, []interface{}{int64(1)}, stmt.Params)
	assert.True(t, stmt.Idempotent)
}

func TestBuildSelectProjectionAndLimit(t *testing.T) {
	m := usersModel(t)

	stmt, err := BuildSelect(m, nil, SelectOptions{Columns: []string{"name", "email"}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "SELECT name, email FROM users LIMIT 10", stmt.Query)
	assert.Empty(t, stmt.Params)
}

func TestBuildSelectMembership(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{
		"id": []interface{}{1, 3, 5},
	}, true, "read")
	require.NoError(t, err)

	stmt, err := BuildSelect(m, preds, SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE id IN (?, ?, ?)", stmt.Query)
	assert.Equal(t, []interface{}{int64(1), int64(3), int64(5)}, stmt.Params)
}

func TestBuildSelectUnknownProjection(t *testing.T) {
	m := usersModel(t)

	_, err := BuildSelect(m, nil, SelectOptions{Columns: []string{"name", "ssn"}})
	assert.ErrorIs(t, err, cruderr.ErrUnknownColumn)
}

func TestBuildUpdate(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, false, "update")
	require.NoError(t, err)

	stmt, err := BuildUpdate(m, map[string]interface{}{"name": "Jane"}, preds, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name = ? WHERE id = ?", stmt.Query)
	assert.Equal(t, []interface{}{"Jane", int64(1)}, stmt.Params)
}

func TestBuildUpdateTTL(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, false, "update")
	require.NoError(t, err)

	stmt, err := BuildUpdate(m, map[string]interface{}{"name": "Jane"}, preds, WriteOptions{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users USING TTL ? SET name = ? WHERE id = ?", stmt.Query)
	assert.Equal(t, []interface{}{60, "Jane", int64(1)}, stmt.Params)
}

func TestBuildUpdateRejectsKeyAssignment(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, false, "update")
	require.NoError(t, err)

	_, err = BuildUpdate(m, map[string]interface{}{"id": 2, "name": "Jane"}, preds, WriteOptions{})
	assert.ErrorIs(t, err, cruderr.ErrPrimaryKeyMismatch)
}

func TestBuildUpdateUnscoped(t *testing.T) {
	m := usersModel(t)

	_, err := BuildUpdate(m, map[string]interface{}{"name": "Jane"}, nil, WriteOptions{})
	assert.ErrorIs(t, err, cruderr.ErrUnscopedMutation)
}

func TestBuildUpdateEmptyRecord(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, false, "update")
	require.NoError(t, err)

	_, err = BuildUpdate(m, nil, preds, WriteOptions{})
	require.Error(t, err)
	assert.True(t, cruderr.IsValidation(err))
}

func TestBuildDelete(t *testing.T) {
	m := usersModel(t)

	preds, err := CompileConditions(m, map[string]interface{}{"id": 1}, false, "delete")
	require.NoError(t, err)

	stmt, err := BuildDelete(m, preds, WriteOptions{Idempotent: true})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", stmt.Query)
	assert.Equal(t, []interface{}{int64(1)}, stmt.Params)
	assert.True(t, stmt.Idempotent)
}

func TestBuildDeleteUnscoped(t *testing.T) {
	m := usersModel(t)

	_, err := BuildDelete(m, nil, WriteOptions{})
	assert.ErrorIs(t, err, cruderr.ErrUnscopedMutation)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "users", QuoteIdentifier("users"))
	assert.Equal(t, `"User"`, QuoteIdentifier("User"))
	assert.Equal(t, `"order by"`, QuoteIdentifier("order by"))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
}
