package mysqlnio

// serverMessage is the tagged variant of decoded server frames described in
// spec §2 (Message Codec). Each concrete type below is one case.
type serverMessage interface {
	isServerMessage()
}

// handshakeMessage is the initial handshake packet sent by the server on
// connect.
type handshakeMessage struct {
	serverVersion      string
	connectionID       uint32
	capabilities       uint32
	charset            uint8
	statusFlags        uint16
	authPluginData     []byte
	authPluginName     string
}

func (*handshakeMessage) isServerMessage() {}

// okMessage is a generic OK packet, terminating a command successfully.
type okMessage struct {
	affectedRows uint64
	lastInsertID uint64
	statusFlags  uint16
	warnings     uint16
	info         string
}

func (*okMessage) isServerMessage() {}

// eofMessage marks the end of a column-definition or row sequence on
// protocol versions/paths that still use the legacy EOF marker.
type eofMessage struct {
	warnings    uint16
	statusFlags uint16
}

func (*eofMessage) isServerMessage() {}

// errMessage is a server-reported ERR packet.
type errMessage struct {
	code     uint16
	sqlState string
	message  string
}

func (*errMessage) isServerMessage() {}

// authSwitchRequestMessage asks the client to re-authenticate using a
// different plugin and seed.
type authSwitchRequestMessage struct {
	pluginName string
	pluginData []byte
}

func (*authSwitchRequestMessage) isServerMessage() {}

// columnDefinitionMessage describes one column of an upcoming result set.
type columnDefinitionMessage struct {
	def *ColumnDefinition
}

func (*columnDefinitionMessage) isServerMessage() {}

// rowMessage is one text-protocol result set row.
type rowMessage struct {
	values []nullString
}

func (*rowMessage) isServerMessage() {}

// binaryRowMessage is one binary-protocol (prepared statement) result set
// row, still in undecoded form -- the accumulator decodes it against the
// statement's cached column types.
type binaryRowMessage struct {
	raw []byte
}

func (*binaryRowMessage) isServerMessage() {}

// resultSetCompleteMessage is the variant for a completed result set. Nothing
// in the driver constructs it: resultAccumulator.finish returns the finished
// ResultSet inside a QueryResult instead.
type resultSetCompleteMessage struct {
	resultSet *ResultSet
}

func (*resultSetCompleteMessage) isServerMessage() {}

// preparedStatementPreparedMessage is the response to COM_STMT_PREPARE.
type preparedStatementPreparedMessage struct {
	statementID uint32
	columnCount uint16
	paramCount  uint16
	warnings    uint16
}

func (*preparedStatementPreparedMessage) isServerMessage() {}

// infileRequestMessage is the LOCAL INFILE request packet.
type infileRequestMessage struct {
	filename string
}

func (*infileRequestMessage) isServerMessage() {}
