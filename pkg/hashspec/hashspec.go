package hashspec

import (
	"crypto/md5"  // #nosec: legacy checksums published by package indexes
	"crypto/sha1" // #nosec: legacy checksums published by package indexes
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/zeebo/blake3"
)

// Algorithm is the name of a supported digest function
type Algorithm string

// Supported digest algorithms
const (
	MD5     Algorithm = "md5"
	SHA1    Algorithm = "sha1"
	SHA224  Algorithm = "sha224"
	SHA256  Algorithm = "sha256"
	SHA384  Algorithm = "sha384"
	SHA512  Algorithm = "sha512"
	Blake2b Algorithm = "blake2b"
	Blake3  Algorithm = "blake3"

	// DefaultAlgorithm is used whenever no hash spec is supplied
	DefaultAlgorithm = SHA256

	separator = "="
)

const (
	// ShardPrefixSize is the number of hex characters in the first directory level
	ShardPrefixSize = 3

	// ShardSize is the number of hex characters spanned by both directory levels
	ShardSize = 16
)

type digester struct {
	newHash func() hash.Hash
	hexSize int
}

// algorithms is the closed set of supported digest functions
var algorithms = map[Algorithm]digester{
	MD5:     {newHash: md5.New, hexSize: 2 * md5.Size},
	SHA1:    {newHash: sha1.New, hexSize: 2 * sha1.Size},
	SHA224:  {newHash: sha256.New224, hexSize: 2 * sha256.Size224},
	SHA256:  {newHash: sha256.New, hexSize: 2 * sha256.Size},
	SHA384:  {newHash: sha512.New384, hexSize: 2 * sha512.Size384},
	SHA512:  {newHash: sha512.New, hexSize: 2 * sha512.Size},
	Blake2b: {newHash: blake2b.New512, hexSize: 2 * blake2b.Size},
	Blake3:  {newHash: func() hash.Hash { return blake3.New() }, hexSize: 64},
}

// Supported tells if an algorithm name belongs to the supported set
func Supported(algo Algorithm) bool {
	_, ok := algorithms[algo]
	return ok
}

// Spec is a parsed hash spec, e.g. "sha256=<hex digest>"
type Spec struct {
	algo   Algorithm
	digest string
}

// Algorithm of this spec
func (s Spec) Algorithm() Algorithm {
	return s.algo
}

// Digest as lowercase hex
func (s Spec) Digest() string {
	return s.digest
}

// IsZero is true for the zero value of a Spec
func (s Spec) IsZero() bool {
	return s.algo == "" && s.digest == ""
}

func (s Spec) String() string {
	if s.IsZero() {
		return ""
	}
	return string(s.algo) + separator + s.digest
}

// Parse a hash spec string.
//
// It fails with status.ErrFormat if the spec does not split into exactly two parts,
// names an unsupported algorithm, or carries a digest of the wrong length or charset.
func Parse(spec string) (Spec, error) {
	parts := strings.Split(spec, separator)
	if len(parts) != 2 {
		return Spec{}, status.ErrFormat.Wrapf("hash spec %q: expected <algorithm>=<hexdigest>", spec)
	}

	algo := Algorithm(parts[0])
	d, ok := algorithms[algo]
	if !ok {
		return Spec{}, status.ErrFormat.Wrapf("hash spec %q: unsupported algorithm %q", spec, parts[0])
	}

	digest := parts[1]
	if len(digest) != d.hexSize {
		return Spec{}, status.ErrFormat.Wrapf("hash spec %q: %s digest should have %d hex characters, got %d",
			spec, algo, d.hexSize, len(digest))
	}
	if !isLowerHex(digest) {
		return Spec{}, status.ErrFormat.Wrapf("hash spec %q: digest is not lowercase hex", spec)
	}

	return Spec{algo: algo, digest: digest}, nil
}

// Compute the hash spec of some content with a given algorithm
func Compute(algo Algorithm, content []byte) (Spec, error) {
	d, ok := algorithms[algo]
	if !ok {
		return Spec{}, status.ErrFormat.Wrapf("unsupported algorithm %q", algo)
	}
	h := d.newHash()
	_, _ = h.Write(content) // never fails
	return Spec{algo: algo, digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// Default computes the hash spec of some content with the default algorithm
func Default(content []byte) string {
	s, _ := Compute(DefaultAlgorithm, content)
	return s.String()
}

// ChecksumError recomputes the checksum of content with the algorithm named by the spec.
//
// It returns a descriptive mismatch message, or an empty message when the content matches.
// An error is returned only when the spec is malformed.
func ChecksumError(content []byte, spec string) (string, error) {
	expected, err := Parse(spec)
	if err != nil {
		return "", err
	}
	actual, err := Compute(expected.algo, content)
	if err != nil {
		return "", err
	}
	if actual.digest != expected.digest {
		return fmt.Sprintf("%s mismatch, got %s, expected %s", expected.algo, actual.digest, expected.digest), nil
	}
	return "", nil
}

// Verify content against a hash spec, failing with status.ErrValidation on mismatch
func Verify(content []byte, spec string) error {
	msg, err := ChecksumError(content, spec)
	if err != nil {
		return err
	}
	if msg != "" {
		return status.ErrValidation.Wrapf("%s", msg)
	}
	return nil
}

// Shard derives a two-level directory split from the digest of a hash spec.
//
// The first level holds the first 3 hex characters (at most 4096 directories),
// the second level the next 13.
func Shard(spec string) (a, b string, err error) {
	s, err := Parse(spec)
	if err != nil {
		return "", "", err
	}
	if len(s.digest) < ShardSize {
		return "", "", status.ErrFormat.Wrapf("hash spec %q: digest too short to shard", spec)
	}
	return s.digest[:ShardPrefixSize], s.digest[ShardPrefixSize:ShardSize], nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
