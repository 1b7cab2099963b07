package mysqlnio

import "crypto/sha1"

// scramble41 computes the native-password authentication response:
//
//	SHA1(password) XOR SHA1(seed <concat> SHA1(SHA1(password)))
//
// Grounded on the teacher's prot_auth.go scramble41.
func scramble41(password string, seed []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	hash := sha1.New()

	hash.Write([]byte(password))
	stage1 := hash.Sum(nil)

	hash.Reset()
	hash.Write(stage1)
	stage2 := hash.Sum(nil)

	hash.Reset()
	hash.Write(seed)
	hash.Write(stage2)
	buf := hash.Sum(nil)

	for i := 0; i < sha1.Size; i++ {
		buf[i] ^= stage1[i]
	}
	return buf
}

// caching-sha2 and other auth plugins are out of scope for this spec; the
// AuthSwitchRequest path assumes the replacement method is also a
// seed-scrambling method compatible with scramble41, which covers
// mysql_native_password -- the only plugin the handshake path in connection.go
// actively drives.
func authResponseFor(pluginName, password string, seed []byte) []byte {
	switch pluginName {
	case "", "mysql_native_password":
		return scramble41(password, seed)
	default:
		// best effort: most drop-in replacements for native password use
		// the same scramble; callers relying on caching_sha2_password or
		// similar should supply an already-hashed password.
		return scramble41(password, seed)
	}
}
