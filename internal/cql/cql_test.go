package cql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, filter string) Expression {
	t.Helper()
	expr, err := ParseJSON([]byte(filter))
	require.NoError(t, err)
	return expr
}

func TestParseComparison(t *testing.T) {
	expr := parse(t, `{"op": "=", "args": [{"property": "collection"}, "ls8_ard"]}`)

	cmp, ok := expr.(*Comparison)
	require.True(t, ok)
	assert.Equal(t, "=", cmp.Operator)
	assert.Equal(t, Property{Name: "collection"}, cmp.Left)
	assert.Equal(t, Literal{Value: "ls8_ard"}, cmp.Right)
}

func TestParseTimestampLiteral(t *testing.T) {
	expr := parse(t, `{"op": ">=", "args": [
		{"property": "datetime"},
		{"timestamp": "2017-06-05T12:00:00Z"}
	]}`)

	cmp := expr.(*Comparison)
	lit, ok := cmp.Right.(Literal)
	require.True(t, ok)
	ts, ok := lit.Value.(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2017, 6, 5, 12, 0, 0, 0, time.UTC), ts.UTC())
}

func TestParseNaryAnd(t *testing.T) {
	expr := parse(t, `{"op": "and", "args": [
		{"op": "=", "args": [{"property": "collection"}, "a"]},
		{"op": "=", "args": [{"property": "region_code"}, "b"]},
		{"op": "=", "args": [{"property": "region_code"}, "c"]}
	]}`)

	// Three arguments fold into a left-deep chain.
	outer, ok := expr.(*Logical)
	require.True(t, ok)
	assert.Equal(t, "and", outer.Operator)
	_, ok = outer.Left.(*Logical)
	assert.True(t, ok)
}

func TestParseErrors(t *testing.T) {
	for name, filter := range map[string]string{
		"unknown op":     `{"op": "touches", "args": [{"property": "id"}, "x"]}`,
		"missing args":   `{"op": "and", "args": [{"op": "isNull", "args": [{"property": "region_code"}]}]}`,
		"bad timestamp":  `{"op": "=", "args": [{"property": "datetime"}, {"timestamp": "not-a-time"}]}`,
		"object literal": `{"op": "=", "args": [{"property": "id"}, {"some": "object"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON([]byte(filter))
			assert.Error(t, err)
		})
	}
}

func TestToSQLComparison(t *testing.T) {
	expr := parse(t, `{"op": "=", "args": [{"property": "region_code"}, "17_-29"]}`)

	sql, args, err := ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t, "sp.region_code = ?", sql)
	assert.Equal(t, []any{"17_-29"}, args)
}

func TestToSQLFlipsReversedOperands(t *testing.T) {
	// "500 <= size_bytes" becomes "size_bytes >= 500".
	expr := parse(t, `{"op": "<=", "args": [500, {"property": "size_bytes"}]}`)

	sql, args, err := ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t, "sp.size_bytes >= ?", sql)
	assert.Equal(t, []any{float64(500)}, args)
}

func TestToSQLIDCast(t *testing.T) {
	expr := parse(t, `{"op": "=", "args": [{"property": "id"}, "f84f8e4f-1b54-4a6a-9c8b-02ef8d7b2b0f"]}`)

	sql, _, err := ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t, "sp.id = ?::uuid", sql)
}

func TestToSQLLogicalNesting(t *testing.T) {
	expr := parse(t, `{"op": "or", "args": [
		{"op": "=", "args": [{"property": "collection"}, "ls8_ard"]},
		{"op": "not", "args": [
			{"op": "isNull", "args": [{"property": "region_code"}]}
		]}
	]}`)

	sql, args, err := ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t, "(pt.name = ? OR NOT sp.region_code IS NULL)", sql)
	assert.Len(t, args, 1)
}

func TestToSQLBetweenAndIn(t *testing.T) {
	expr := parse(t, `{"op": "between", "args": [{"property": "size_bytes"}, 100, 2000]}`)
	sql, args, err := ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t, "sp.size_bytes BETWEEN ? AND ?", sql)
	assert.Equal(t, []any{float64(100), float64(2000)}, args)

	expr = parse(t, `{"op": "in", "args": [{"property": "region_code"}, ["a", "b"]]}`)
	sql, args, err = ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t, "sp.region_code IN (?, ?)", sql)
	assert.Equal(t, []any{"a", "b"}, args)
}

func TestToSQLRejectsUnknownProperty(t *testing.T) {
	expr := parse(t, `{"op": "=", "args": [{"property": "platform; DROP TABLE"}, "x"]}`)
	_, _, err := ToSQL(expr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not queryable")
}
