package mysqlnio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorCollectsColumnsThenRows(t *testing.T) {
	acc := newResultAccumulator(2, false)

	assert.False(t, acc.addColumn(&ColumnDefinition{Name: "id"}))
	assert.True(t, acc.addColumn(&ColumnDefinition{Name: "name"}))

	acc.beginRows()
	acc.addTextRow([]nullString{{value: "1", valid: true}, {value: "alice", valid: true}})
	acc.addTextRow([]nullString{{valid: false}, {value: "bob", valid: true}})

	res := acc.finish(0, serverStatusAutocommit)
	require.NotNil(t, res.ResultSet)
	require.Len(t, res.ResultSet.Rows, 2)
	assert.Equal(t, []string{"id", "name"}, res.ResultSet.ColumnNames())
	assert.Equal(t, "1", res.ResultSet.Rows[0][0])
	assert.Nil(t, res.ResultSet.Rows[1][0])
	assert.Equal(t, "bob", res.ResultSet.Rows[1][1])
	assert.Equal(t, int64(2), res.AffectedRows)
}

func TestAccumulatorZeroColumns(t *testing.T) {
	acc := newResultAccumulator(0, false)
	assert.True(t, acc.columnsWanted == 0)
}
