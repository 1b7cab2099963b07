package mysqlnio

// ColumnDefinition describes one column of a ResultSet, grounded on the
// teacher's columnDefinition (result.go/rows.go) but exported as part of
// this driver's public data model (spec §3).
type ColumnDefinition struct {
	Name     string
	OrgName  string
	Table    string
	OrgTable string
	Schema   string
	Catalog  string

	Charset      uint16
	ColumnLength uint32
	ColumnType   uint8
	Flags        uint16
	Decimals     uint8
}

// Row is one fixed-arity tuple of a ResultSet, indexed by column position.
// A nil entry represents SQL NULL.
type Row []interface{}

// ResultSet is the ordered sequence of rows produced by a query, together
// with its column metadata.
type ResultSet struct {
	Columns []*ColumnDefinition
	Rows    []Row
}

// ColumnNames returns the column names in positional order.
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// QueryResult is the value delivered to the caller by SendQuery /
// SendPreparedStatement (spec §3).
type QueryResult struct {
	AffectedRows int64
	StatusMessage string
	// LastInsertID is -1 when not applicable.
	LastInsertID int64
	StatusFlags  uint16
	Warnings     uint16
	ResultSet    *ResultSet
}

func queryResultFromOK(ok *okMessage) *QueryResult {
	lastInsertID := int64(-1)
	if ok.lastInsertID != 0 {
		lastInsertID = int64(ok.lastInsertID)
	}
	return &QueryResult{
		AffectedRows:  int64(ok.affectedRows),
		StatusMessage: ok.info,
		LastInsertID:  lastInsertID,
		StatusFlags:   ok.statusFlags,
		Warnings:      ok.warnings,
	}
}

func queryResultFromResultSet(rs *ResultSet, warnings uint16, statusFlags uint16) *QueryResult {
	return &QueryResult{
		AffectedRows: int64(len(rs.Rows)),
		LastInsertID: -1,
		StatusFlags:  statusFlags,
		Warnings:     warnings,
		ResultSet:    rs,
	}
}
