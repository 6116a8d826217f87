package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// ErrUnsupportedAlgorithm marks a digest whose algorithm this build does not
// know. It is a configuration error: callers must fail the whole batch
// rather than skip verification.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// ErrMalformed marks a digest string that does not parse.
var ErrMalformed = errors.New("malformed digest")

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Digest is an algorithm-tagged content hash. It doubles as the cache key:
// an object committed under a digest always re-hashes to that digest.
type Digest struct {
	Algorithm string
	Hex       string
}

// Parse splits "algorithm:hexvalue" into a Digest. The hex value is
// normalized to lower case and checked for valid hex encoding and the
// algorithm's exact length.
func Parse(s string) (Digest, error) {
	algo, value, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, fmt.Errorf("%w: %q has no algorithm prefix", ErrMalformed, s)
	}
	newHash, ok := algorithms[algo]
	if !ok {
		return Digest{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algo)
	}
	value = strings.ToLower(value)
	raw, err := hex.DecodeString(value)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %q is not hex", ErrMalformed, value)
	}
	if len(raw) != newHash().Size() {
		return Digest{}, fmt.Errorf("%w: %s digest must be %d hex chars, got %d",
			ErrMalformed, algo, newHash().Size()*2, len(value))
	}
	return Digest{Algorithm: algo, Hex: value}, nil
}

// String renders the digest back to its "algorithm:hexvalue" form.
func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

// MatchesFile re-hashes the file at path with the digest's algorithm and
// reports whether the result equals the digest. An unsupported algorithm is
// an error, never a silent false.
func (d Digest) MatchesFile(path string) (bool, error) {
	newHash, ok := algorithms[d.Algorithm]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, d.Algorithm)
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)) == d.Hex, nil
}

// InferAlgorithm guesses the algorithm of a bare hex value by its length.
// The supported algorithms all have distinct digest sizes, so the guess is
// unambiguous when it succeeds.
func InferAlgorithm(hexValue string) (string, error) {
	for algo, newHash := range algorithms {
		if len(hexValue) == newHash().Size()*2 {
			return algo, nil
		}
	}
	return "", fmt.Errorf("%w: no algorithm produces %d hex chars", ErrUnsupportedAlgorithm, len(hexValue))
}

// FromFile computes the digest of the file at path with the given algorithm.
func FromFile(algorithm string, path string) (Digest, error) {
	newHash, ok := algorithms[algorithm]
	if !ok {
		return Digest{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return Digest{Algorithm: algorithm, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}
