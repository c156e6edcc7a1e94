package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_Match(t *testing.T) {
	def, err := NewTableDef([]Column{
		{Name: "ra", Type: TypeDouble},
		{Name: "name", Type: TypeChar},
		{Name: "n", Type: TypeInt},
		{Name: "note", Type: TypeChar},
	})
	require.NoError(t, err)
	row := NewRow(def, 10.5, "M31 Andromeda", int64(7), nil)

	tests := []struct {
		expr string
		want bool
	}{
		{"ra > 10", true},
		{"ra>10.5", false},
		{"ra >= 10.5", true},
		{"ra < 9e1", true},
		{"ra <= 1", false},
		{"n = 7", true},
		{"n = 7.0", true},
		{"n != 7", false},
		{"name = 'm31 andromeda'", true},
		{"name > m30", true},
		{"name LIKE m31%", true},
		{"name like %andro%", true},
		{"name LIKE andro", true},
		{"name LIKE x_1%", false},
		{"name LIKE M3_ Andromeda", true},
		{"n IN (1, 7, 9)", true},
		{"n in (1,2)", false},
		{"name IN ('a', \"M31 Andromeda\")", true},
		{"note = null", true},
		{"missing = 1", false},
		{"ROW_IDX = 42", true},
		{"ROW_IDX IN (1, 2)", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCondition(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Match(row, 42))
		})
	}
}

func TestParseCondition_Invalid(t *testing.T) {
	for _, expr := range []string{"", "ra", "ra >", "> 5", "n IN ()", "ra ~ 5"} {
		_, err := ParseCondition(expr)
		assert.Error(t, err, expr)
	}
}

func TestCondition_String(t *testing.T) {
	c, err := ParseCondition("n in ( 1 , 2 )")
	require.NoError(t, err)
	assert.Equal(t, "n IN (1,2)", c.String())

	c, err = ParseCondition("ra>=5")
	require.NoError(t, err)
	assert.Equal(t, "ra >= 5", c.String())
}

func TestAndOr(t *testing.T) {
	def, err := NewTableDef([]Column{{Name: "x", Type: TypeInt}})
	require.NoError(t, err)
	row := NewRow(def, int64(5))

	gt, err := ParseCondition("x > 3")
	require.NoError(t, err)
	lt, err := ParseCondition("x < 4")
	require.NoError(t, err)

	assert.False(t, And(gt.Predicate(), lt.Predicate())(row, 0))
	assert.True(t, Or(gt.Predicate(), lt.Predicate())(row, 0))
	assert.True(t, And()(row, 0))
	assert.False(t, Or()(row, 0))

	pred, err := ParseConditions("x > 3", "x <= 5")
	require.NoError(t, err)
	assert.True(t, pred(row, 0))

	_, err = ParseConditions("x > 3", "bogus")
	assert.Error(t, err)
}
