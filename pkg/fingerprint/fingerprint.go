// Package fingerprint provides deterministic content hashing for dataset
// transform lineage. A fingerprint is the sole identity used for cache
// lookups: identical (base fingerprint, transform id, canonicalized
// arguments) always produce the same fingerprint, across process restarts
// and across machines.
//
// Transform arguments are reduced to a canonical tagged-variant byte
// representation before hashing: mapping keys are sorted, integer types are
// normalized to 64 bits and floats are hashed by their IEEE-754 bit pattern.
// Arguments that cannot be canonicalized (channels, funcs, opaque structs)
// fail the request by default; CombineOrRandom degrades to a session-unique
// random fingerprint instead, which is documented as cache-defeating.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Size is the fingerprint length in bytes.
const Size = 16

// Fingerprint is an opaque, fixed-length content hash rendered as a
// path-safe lowercase hex string.
type Fingerprint string

// Zero is the empty fingerprint, used as the lineage root of freshly
// written tables that have no base.
const Zero Fingerprint = ""

// String implements fmt.Stringer.
func (f Fingerprint) String() string { return string(f) }

// IsZero reports whether the fingerprint is the lineage root.
func (f Fingerprint) IsZero() bool { return f == Zero }

// Valid reports whether the fingerprint is a well-formed hash string.
func (f Fingerprint) Valid() bool {
	if len(f) != Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// FromBytes fingerprints raw content.
func FromBytes(data []byte) Fingerprint {
	return fromSum(xxh3.Hash128(data))
}

// FromString fingerprints a string identity, typically a dataset name.
func FromString(s string) Fingerprint {
	return FromBytes([]byte(s))
}

// Combine derives the fingerprint of a transform applied to a base view.
// It is a pure function of its inputs. Arguments that cannot be reduced to
// the canonical byte representation yield a fingerprint error and no hash.
func Combine(base Fingerprint, transformID string, args map[string]interface{}) (Fingerprint, error) {
	h := xxh3.New()

	writeFrame(h, []byte(base))
	writeFrame(h, []byte(transformID))

	canon, err := Canonicalize(args)
	if err != nil {
		return Zero, err
	}
	writeFrame(h, canon)

	return fromSum(h.Sum128()), nil
}

// CombineOrRandom behaves like Combine but degrades to a random fingerprint
// when the arguments cannot be canonicalized. The resulting view can never
// hit the cache of another session; callers opt into this explicitly.
func CombineOrRandom(base Fingerprint, transformID string, args map[string]interface{}) Fingerprint {
	fp, err := Combine(base, transformID, args)
	if err != nil {
		return Random()
	}
	return fp
}

// Random returns a session-unique fingerprint. Using it makes the
// associated cache entry unreachable from any other session.
func Random() Fingerprint {
	id := uuid.New()
	return fromSum(xxh3.Hash128(id[:]))
}

// writeFrame writes a length-prefixed frame so adjacent inputs cannot
// alias each other.
func writeFrame(h *xxh3.Hasher, data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(data)
}

func fromSum(sum xxh3.Uint128) Fingerprint {
	var buf [Size]byte
	binary.BigEndian.PutUint64(buf[:8], sum.Hi)
	binary.BigEndian.PutUint64(buf[8:], sum.Lo)
	return Fingerprint(hex.EncodeToString(buf[:]))
}
