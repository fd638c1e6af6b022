package storage

import "github.com/raniellyferreira/kvscript/encoding"

// Raw key prefixes
const (
	PrefixUser     byte = 'u'
	PrefixScript   byte = 's'
	PrefixLibrary  byte = 'l'
	PrefixFunction byte = 'f'
)

// MaxDatabases is the number of logical databases addressable by SELECT
const MaxDatabases = 16

// UserKey returns the raw engine key of key in db
func UserKey(db int, key string) []byte {
	buf := make([]byte, 0, 2+len(key))
	buf = append(buf, PrefixUser)
	buf = encoding.PutFixed8(buf, uint8(db))
	return append(buf, key...)
}

// UserPrefix returns the raw prefix shared by every key of db
func UserPrefix(db int) []byte {
	return encoding.PutFixed8([]byte{PrefixUser}, uint8(db))
}

// ScriptKey returns the raw key holding the body of script sha
func ScriptKey(sha string) []byte {
	return append([]byte{PrefixScript}, sha...)
}

// LibraryKey returns the raw key holding library name
func LibraryKey(name string) []byte {
	return append([]byte{PrefixLibrary}, name...)
}

// FunctionKey returns the raw key mapping function name to its library
func FunctionKey(name string) []byte {
	return append([]byte{PrefixFunction}, name...)
}

// IsMetaKey reports whether raw belongs to the script or function registry
func IsMetaKey(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case PrefixScript, PrefixLibrary, PrefixFunction:
		return true
	}
	return false
}
