package core

// cid.go – self-certifying content identifiers. Every DAG-addressed object
// (block, CCL module, job manifest) shares this one wire type rather than
// each having its own one-off hash-string computation.

import (
	"encoding/binary"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Codec tags the payload type a CID addresses. New codecs may be added;
// unknown codecs are rejected on decode.
type Codec uint64

const (
	CodecRaw Codec = 0x55 // raw bytes, mirrors cid.Raw
	CodecDagBlock Codec = 0x71 // an encoded DAG block
	CodecCclModule Codec = 0x90 // compiled CCL WASM module bytes
)

// HashAlgo tags the digest function. SHA2-256 is the only algorithm
// exercised today; the tag exists so the wire form can add others without
// breaking existing CIDs.
type HashAlgo uint64

const (
	HashSHA2_256 HashAlgo = uint64(mh.SHA2_256)
)

// CID is the opaque, self-certifying identifier: `(version, codec,
// hash_algo, digest)`. Two blocks with identical bytes
// produce identical CIDs; equality is byte-equality of the digest (plus
// the tags, since a digest collision across hash algorithms is not
// equality).
type CID struct {
	Version uint8
	Codec Codec
	HashAlgo HashAlgo
	Digest []byte
}

// ComputeCID hashes data with SHA2-256 and wraps it in a v1 CID tagged with
// codec. This is the sole place raw bytes are turned into a CID; every
// other component receives CIDs already computed, never recomputes hashes
// itself outside validation paths (dag_store.go's put invariant check).
func ComputeCID(data []byte, codec Codec) (CID, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return CID{}, fmt.Errorf("%w: multihash sum: %v", ErrInternal, err)
	}
	decoded, err := mh.Decode(sum)
	if err != nil {
		return CID{}, fmt.Errorf("%w: multihash decode: %v", ErrInternal, err)
	}
	return CID{Version: 1, Codec: codec, HashAlgo: HashSHA2_256, Digest: decoded.Digest}, nil
}

// Equal reports byte-equality of digest and matching tags.
func (c CID) Equal(other CID) bool {
	if c.Version != other.Version || c.Codec != other.Codec || c.HashAlgo != other.HashAlgo {
		return false
	}
	if len(c.Digest) != len(other.Digest) {
		return false
	}
	for i := range c.Digest {
		if c.Digest[i] != other.Digest[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether c carries no digest (the uninitialized value).
func (c CID) IsZero() bool { return len(c.Digest) == 0 }

// Bytes encodes c into its canonical wire form:
// (version:u8, codec:varint, hash_algo:varint, digest_len:varint, digest).
func (c CID) Bytes() []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64*3+len(c.Digest))
	buf = append(buf, c.Version)
	buf = appendVarint(buf, uint64(c.Codec))
	buf = appendVarint(buf, uint64(c.HashAlgo))
	buf = appendVarint(buf, uint64(len(c.Digest)))
	buf = append(buf, c.Digest...)
	return buf
}

// DecodeCID parses the canonical wire form produced by Bytes.
func DecodeCID(b []byte) (CID, error) {
	if len(b) < 1 {
		return CID{}, fmt.Errorf("%w: empty cid bytes", ErrDeserialization)
	}
	version := b[0]
	rest := b[1:]

	codec, n, err := readVarint(rest)
	if err != nil {
		return CID{}, fmt.Errorf("%w: codec: %v", ErrDeserialization, err)
	}
	rest = rest[n:]

	algo, n, err := readVarint(rest)
	if err != nil {
		return CID{}, fmt.Errorf("%w: hash_algo: %v", ErrDeserialization, err)
	}
	rest = rest[n:]

	digestLen, n, err := readVarint(rest)
	if err != nil {
		return CID{}, fmt.Errorf("%w: digest_len: %v", ErrDeserialization, err)
	}
	rest = rest[n:]

	if uint64(len(rest)) < digestLen {
		return CID{}, fmt.Errorf("%w: truncated digest", ErrDeserialization)
	}
	digest := make([]byte, digestLen)
	copy(digest, rest[:digestLen])

	return CID{Version: version, Codec: Codec(codec), HashAlgo: HashAlgo(algo), Digest: digest}, nil
}

// String renders c as a lowercase base32 CIDv1 string, the stable external
// representation logged and compared across nodes, via the go-cid and
// multihash libraries.
func (c CID) String() string {
	if c.IsZero() {
		return ""
	}
	encoded, err := mh.Encode(c.Digest, uint64(c.HashAlgo))
	if err != nil {
		return fmt.Sprintf("invalid-cid-%x", c.Digest)
	}
	return cid.NewCidV1(uint64(c.Codec), encoded).String()
}

// DecodeCIDFromString parses the external base32 CIDv1 representation
// produced by String back into a CID, the inverse operation the host ABI
// needs whenever a guest passes a proposal or job id as a string.
func DecodeCIDFromString(s string) (CID, error) {
	parsed, err := cid.Decode(s)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	decoded, err := mh.Decode(parsed.Hash())
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return CID{Version: 1, Codec: Codec(parsed.Type()), HashAlgo: HashAlgo(decoded.Code), Digest: decoded.Digest}, nil
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, fmt.Errorf("malformed varint")
	}
	return v, n, nil
}
