package core

// dag_block.go – immutable DAG blocks: content hashed, then addressed by
// the resulting CID, with typed links and an author signature.

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Link is an ordered reference from one block to another, carrying enough
// metadata (name, size) for a consumer to decide whether to fetch it
// without first retrieving the target.
type Link struct {
	CID CID
	Name string
	Size uint64
}

// Block is the immutable unit of DAG storage: `{cid, data, links, timestamp,
// author_did, signature?, scope?}`. The invariant `cid ==
// hash(canonical_encode(...))` is enforced by NewBlock and re-checked by
// the DAG store on put.
type Block struct {
	CID CID
	Data []byte
	Links []Link
	Timestamp time.Time
	AuthorDID DID
	Signature []byte // optional; empty if unsigned
	Scope Scope
}

// NewBlock constructs a Block and computes its CID from the canonical
// encoding of its content fields. Signature is attached after CID
// computation (the CID addresses data+links+author+scope, not the
// signature itself, so a block can be re-signed without changing identity).
func NewBlock(data []byte, links []Link, author DID, scope Scope) (Block, error) {
	b := Block{
		Data: data,
		Links: links,
		Timestamp: time.Now().UTC(),
		AuthorDID: author,
		Scope: scope,
	}
	enc := b.canonicalEncode()
	c, err := ComputeCID(enc, CodecDagBlock)
	if err != nil {
		return Block{}, err
	}
	b.CID = c
	return b, nil
}

// Sign attaches sig to a copy of b. It does not alter b.CID, per the
// invariant that identity is a function of (data, links, author, scope)
// only.
func (b Block) Sign(sig []byte) Block {
	b.Signature = sig
	return b
}

// Verify recomputes the CID from b's content fields and reports whether it
// matches b.CID, i.e. whether b has not been tampered with since creation.
// This is the check the DAG store performs on every put.
func (b Block) Verify() error {
	enc := b.canonicalEncode()
	want, err := ComputeCID(enc, CodecDagBlock)
	if err != nil {
		return err
	}
	if !want.Equal(b.CID) {
		return fmt.Errorf("%w: block %s", ErrDagValidation, b.CID.String())
	}
	return nil
}

// canonicalEncode produces the deterministic, fixed-field-order,
// length-prefixed encoding the CID is computed over. Block carries no
// maps and Links is already an ordered list, so no iteration-order
// dependence can creep in.
func (b Block) canonicalEncode() []byte {
	var buf []byte
	buf = appendLPBytes(buf, b.Data)
	buf = appendVarint(buf, uint64(len(b.Links)))
	for _, l := range b.Links {
		buf = appendLPBytes(buf, l.CID.Bytes())
		buf = appendLPBytes(buf, []byte(l.Name))
		buf = appendVarint(buf, l.Size)
	}
	buf = appendLPBytes(buf, []byte(b.AuthorDID.String()))
	buf = appendVarint(buf, uint64(b.Scope))
	return buf
}

func appendLPBytes(buf []byte, data []byte) []byte {
	buf = appendVarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func appendBEUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func beUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func nanoToTime(nano uint64) time.Time {
	return time.Unix(0, int64(nano)).UTC()
}
