// Package rand produces random test fixtures: release file contents and names.
package rand

import (
	"math/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Bytes returns n random bytes, e.g. for release file contents
func Bytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rand.Intn(256)) // #nosec
	}
	return buf
}

// LetterString returns a random string picked in the [0-9]|[a-z] range
func LetterString(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))] // #nosec
	}
	return string(buf)
}

// Basename returns a random release file name with the given extension, e.g. "k3j0x2qf-1.0.tar.gz"
func Basename(ext string) string {
	return LetterString(8) + "-1.0" + ext
}
