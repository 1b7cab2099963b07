package mysqlnio

import "fmt"

// charsetIDs is a small, resolvable subset of the server's charset registry
// -- the full registry (hundreds of collations) is a named collaborator
// Non-goal. Callers who need an unlisted charset can add it with
// RegisterCharset before constructing a Config.
var charsetIDs = map[string]uint8{
	"big5":     1,
	"latin1":   8,
	"ascii":    11,
	"utf8":     33,
	"utf8mb4":  45,
	"binary":   63,
	"utf16":    54,
	"utf32":    60,
	"gbk":      28,
	"cp1251":   51,
	"latin2":   9,
	"koi8r":    40,
}

// RegisterCharset adds or overrides a charset-name-to-id mapping used by
// ResolveCharset. It is not safe for concurrent use with connection
// construction.
func RegisterCharset(name string, id uint8) {
	charsetIDs[name] = id
}

// ResolveCharset maps a charset name to the server charset id sent in the
// handshake response. Construction of a Config fails if this returns false.
func ResolveCharset(name string) (uint8, bool) {
	id, ok := charsetIDs[name]
	return id, ok
}

func mustResolveCharset(name string) (uint8, error) {
	id, ok := ResolveCharset(name)
	if !ok {
		return 0, fmt.Errorf("mysqlnio: unresolvable charset %q", name)
	}
	return id, nil
}
