package mysqlnio

// resultAccumulator assembles the column-definition and row frames of one
// result set into a ResultSet, grounded on the teacher's
// handleResultSet/handleBinaryResultSet (prot_text.go/prot_binary.go) but
// pulled out of the connection into a standalone component per spec §4.4,
// so the Connection Core's run-loop only has to feed it frames and ask
// whether it is done.
type resultAccumulator struct {
	binary bool

	columnCount    int
	columnsWanted  int
	columns        []*ColumnDefinition
	collectingRows bool

	rows []Row
}

// newResultAccumulator starts a fresh accumulator expecting columnCount
// column-definition frames before row collection begins. binary selects
// whether subsequent row frames are text-protocol or binary-protocol rows.
func newResultAccumulator(columnCount int, binary bool) *resultAccumulator {
	return &resultAccumulator{
		binary:        binary,
		columnCount:   columnCount,
		columnsWanted: columnCount,
		columns:       make([]*ColumnDefinition, 0, columnCount),
	}
}

// addColumn records one column definition. It returns true once every
// expected column has been seen, at which point the caller should expect a
// terminating EOF (protocol41) before rows begin.
func (a *resultAccumulator) addColumn(def *ColumnDefinition) bool {
	a.columns = append(a.columns, def)
	a.columnsWanted--
	return a.columnsWanted == 0
}

// beginRows transitions the accumulator from collecting column definitions
// to collecting rows -- called once the column-definition EOF is consumed.
func (a *resultAccumulator) beginRows() {
	a.collectingRows = true
}

// addTextRow decodes and appends one text-protocol row.
func (a *resultAccumulator) addTextRow(values []nullString) {
	row := make(Row, len(values))
	for i, v := range values {
		if !v.valid {
			row[i] = nil
			continue
		}
		row[i] = v.value
	}
	a.rows = append(a.rows, row)
}

// addBinaryRow decodes and appends one binary-protocol (prepared statement)
// row against the accumulated column definitions.
func (a *resultAccumulator) addBinaryRow(raw []byte) {
	a.rows = append(a.rows, decodeBinaryRow(raw, a.columns))
}

// finish builds the completed ResultSet and wraps it in a QueryResult,
// consuming the accumulator -- it must not be reused afterward.
func (a *resultAccumulator) finish(warnings, statusFlags uint16) *QueryResult {
	rs := &ResultSet{Columns: a.columns, Rows: a.rows}
	return queryResultFromResultSet(rs, warnings, statusFlags)
}
