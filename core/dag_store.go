package core

// dag_store.go – content-addressed block storage over a pluggable
// persistence backend, with put-time validation enforced at the store
// layer rather than trusted to the backend.

import (
	"context"
	"fmt"
	"sync"
)

// BlockBackend is the pluggable persistence capability a DAG store layers
// its put-time validation on top of. Implementations: in-memory (below),
// file-per-CID, embedded KV — interchangeable.
type BlockBackend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// MemoryBackend is an in-memory BlockBackend, used by tests in place of a
// live persistence layer.
type MemoryBackend struct {
	mu sync.Mutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(d))
	copy(cp, d)
	return cp, true, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// DAGStore persists Blocks keyed by CID. All public operations serialize
// through a single mutex per instance — backends are not assumed to be
// concurrency-safe on their own.
type DAGStore struct {
	mu sync.Mutex
	backend BlockBackend
	logger Logger
}

// NewDAGStore wires a DAGStore over the given backend.
func NewDAGStore(backend BlockBackend, logger Logger) *DAGStore {
	if logger == nil {
		logger = NopLogger{}
	}
	return &DAGStore{backend: backend, logger: logger}
}

// Put validates that block.CID matches hash(canonical_encode(block)) and,
// if so, persists it keyed by the CID's string form. A CID mismatch is
// rejected with ErrDagValidation and nothing is written.
func (s *DAGStore) Put(ctx context.Context, block Block) error {
	if err := block.Verify(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := encodeBlock(block)
	if err != nil {
		return fmt.Errorf("%w: encode block: %v", ErrInternal, err)
	}
	if err := s.backend.Put(ctx, block.CID.String(), enc); err != nil {
		s.logger.Errorf("dag store put %s: %v", block.CID, err)
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return nil
}

// Get retrieves the block named by cid. A missing block is (nil, nil), not
// an error; malformed stored bytes surface ErrDeserialization.
func (s *DAGStore) Get(ctx context.Context, cid CID) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.backend.Get(ctx, cid.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if !ok {
		return nil, nil
	}
	block, err := decodeBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return &block, nil
}

// Contains reports whether cid is present without decoding the block.
func (s *DAGStore) Contains(ctx context.Context, cid CID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.backend.Get(ctx, cid.String())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return ok, nil
}

// Delete removes a block. Administrative/GC use only; blocks are never
// deleted as part of ordinary operation.
func (s *DAGStore) Delete(ctx context.Context, cid CID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, cid.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return nil
}

// Roots returns the CIDs of every block in the store that is not named as
// a Link target by any other stored block — the DAG's root set.
func (s *DAGStore) Roots(ctx context.Context) ([]CID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	linked := make(map[string]struct{})
	blocks := make([]Block, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.backend.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		b, err := decodeBlock(raw)
		if err != nil {
			continue
		}
		blocks = append(blocks, b)
		for _, l := range b.Links {
			linked[l.CID.String()] = struct{}{}
		}
	}

	roots := make([]CID, 0, len(blocks))
	for _, b := range blocks {
		if _, isLinked := linked[b.CID.String()]; !isLinked {
			roots = append(roots, b.CID)
		}
	}
	return roots, nil
}

// encodeBlock/decodeBlock serialize a Block for backend storage using the
// same length-prefixed canonical form as CID computation, followed by the
// fields that are not part of the hashed content: timestamp, signature,
// and the CID itself.
func encodeBlock(b Block) ([]byte, error) {
	buf := b.canonicalEncode()
	buf = appendBEUint64(buf, uint64(b.Timestamp.UnixNano()))
	buf = appendLPBytes(buf, b.Signature)
	buf = appendLPBytes(buf, b.CID.Bytes())
	return buf, nil
}

func decodeBlock(raw []byte) (Block, error) {
	rest := raw

	data, n, err := readLPBytes(rest)
	if err != nil {
		return Block{}, err
	}
	rest = rest[n:]

	linkCount, n, err := readVarint(rest)
	if err != nil {
		return Block{}, err
	}
	rest = rest[n:]

	links := make([]Link, 0, linkCount)
	for i := uint64(0); i < linkCount; i++ {
		cidBytes, n, err := readLPBytes(rest)
		if err != nil {
			return Block{}, err
		}
		rest = rest[n:]
		linkCID, err := DecodeCID(cidBytes)
		if err != nil {
			return Block{}, err
		}
		nameBytes, n, err := readLPBytes(rest)
		if err != nil {
			return Block{}, err
		}
		rest = rest[n:]
		size, n, err := readVarint(rest)
		if err != nil {
			return Block{}, err
		}
		rest = rest[n:]
		links = append(links, Link{CID: linkCID, Name: string(nameBytes), Size: size})
	}

	authorBytes, n, err := readLPBytes(rest)
	if err != nil {
		return Block{}, err
	}
	rest = rest[n:]

	scope, n, err := readVarint(rest)
	if err != nil {
		return Block{}, err
	}
	rest = rest[n:]

	if len(rest) < 8 {
		return Block{}, fmt.Errorf("truncated timestamp")
	}
	tsNano := beUint64(rest[:8])
	rest = rest[8:]

	sig, n, err := readLPBytes(rest)
	if err != nil {
		return Block{}, err
	}
	rest = rest[n:]

	cidBytes, _, err := readLPBytes(rest)
	if err != nil {
		return Block{}, err
	}
	c, err := DecodeCID(cidBytes)
	if err != nil {
		return Block{}, err
	}

	author, err := ParseDID(string(authorBytes))
	if err != nil && len(authorBytes) > 0 {
		return Block{}, err
	}

	return Block{
		CID: c,
		Data: data,
		Links: links,
		Timestamp: nanoToTime(tsNano),
		AuthorDID: author,
		Signature: sig,
		Scope: Scope(scope),
	}, nil
}

func readLPBytes(b []byte) ([]byte, int, error) {
	length, n, err := readVarint(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-n) < length {
		return nil, 0, fmt.Errorf("truncated length-prefixed bytes")
	}
	out := make([]byte, length)
	copy(out, b[n:n+int(length)])
	return out, n + int(length), nil
}
