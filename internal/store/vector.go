package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorIndex implements VectorIndex with one HNSW graph per
// organization. Keeping tenants in separate graphs makes the mandatory
// organization filter structural: a query can only ever traverse its own
// tenant's vectors, and narrower predicates (doc, allow-list) are
// resolved exactly over the tenant's candidate set.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	dims   int
	path   string // Snapshot file; empty for in-memory (tests)
	orgs   map[string]*orgVectors
	closed bool
}

// orgVectors holds one organization's graph and its ID bookkeeping.
// Deletion is lazy: removed chunks leave orphan nodes in the graph that
// are skipped at query time and dropped on the next snapshot reload.
type orgVectors struct {
	graph   *hnsw.Graph[uint64]
	nextKey uint64
	idMap   map[string]uint64 // chunk ID -> graph key
	keyMap  map[uint64]string // graph key -> chunk ID
	vecs    map[string][]float32
	meta    map[string]ChunkMeta
}

// vectorSnapshot is the gob persistence format. Graphs are rebuilt from
// raw vectors on load, which also compacts away lazily deleted nodes.
type vectorSnapshot struct {
	Dims int
	Orgs map[string]orgSnapshot
}

type orgSnapshot struct {
	Vecs map[string][]float32
	Meta map[string]ChunkMeta
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

// NewHNSWVectorIndex creates a vector index for the given embedding width.
// When path is non-empty an existing snapshot is loaded from it and Save
// writes back to it atomically.
func NewHNSWVectorIndex(dims int, path string) (*HNSWVectorIndex, error) {
	if dims < 1 {
		return nil, fmt.Errorf("vector index: dimensions must be positive, got %d", dims)
	}

	idx := &HNSWVectorIndex{
		dims: dims,
		path: path,
		orgs: make(map[string]*orgVectors),
	}

	if path != "" {
		if err := idx.load(path); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

func newOrgVectors() *orgVectors {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32
	graph.Ml = 0.25
	return &orgVectors{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		vecs:   make(map[string][]float32),
		meta:   make(map[string]ChunkMeta),
	}
}

// Upsert inserts or replaces chunks by composite ID.
func (x *HNSWVectorIndex) Upsert(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.OrganizationID == "" {
			return ErrOrgScopeMissing
		}
		if len(c.Embedding) != x.dims {
			return ErrDimensionMismatch{Expected: x.dims, Got: len(c.Embedding)}
		}

		org := x.orgs[c.OrganizationID]
		if org == nil {
			org = newOrgVectors()
			x.orgs[c.OrganizationID] = org
		}

		id := c.ID()
		// Lazy-delete any previous version: orphan the old graph node
		// instead of removing it (deleting the last node breaks coder/hnsw).
		if oldKey, exists := org.idMap[id]; exists {
			delete(org.keyMap, oldKey)
			delete(org.idMap, id)
		}

		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		normalizeInPlace(vec)

		key := org.nextKey
		org.nextKey++
		org.graph.Add(hnsw.MakeNode(key, vec))

		org.idMap[id] = key
		org.keyMap[key] = id
		org.vecs[id] = vec
		org.meta[id] = ChunkMeta{
			DocID:          c.DocID,
			ChunkIndex:     c.ChunkIndex,
			Filename:       c.Filename,
			FileType:       c.FileType,
			OrganizationID: c.OrganizationID,
			TokenCount:     c.TokenCount,
			Start:          c.Start,
			End:            c.End,
			UploadedAt:     c.UploadedAt,
		}
	}

	return nil
}

// KNN returns the k nearest chunks to query among those matching where,
// descending by cosine score. Negative similarities clip to 0.
func (x *HNSWVectorIndex) KNN(ctx context.Context, query []float32, k int, where Where) ([]*VectorHit, error) {
	if where.OrganizationID == "" {
		return nil, ErrOrgScopeMissing
	}
	if k < 1 {
		return []*VectorHit{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != x.dims {
		return nil, ErrDimensionMismatch{Expected: x.dims, Got: len(query)}
	}

	org := x.orgs[where.OrganizationID]
	if org == nil || len(org.idMap) == 0 {
		return []*VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// A narrowed predicate is answered exactly over the candidate set so
	// top-k is computed on the filtered subset, not filtered after the fact.
	if where.DocID != "" || len(where.Filenames) > 0 {
		return org.exactKNN(q, k, where), nil
	}

	// Graph search over the whole tenant. Over-fetch by the orphan count
	// so lazily deleted nodes cannot displace live results.
	orphans := org.graph.Len() - len(org.idMap)
	nodes := org.graph.Search(q, k+orphans)

	hits := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, live := org.keyMap[node.Key]
		if !live {
			continue // lazily deleted
		}
		hits = append(hits, &VectorHit{
			ChunkID: id,
			Score:   clipUnit(float64(dot(q, node.Value))),
			Meta:    org.meta[id],
		})
		if len(hits) == k {
			break
		}
	}

	sortHits(hits)
	return hits, nil
}

// exactKNN scores every candidate matching where and returns the top k.
func (o *orgVectors) exactKNN(q []float32, k int, where Where) []*VectorHit {
	allowed := filenameSet(where.Filenames)

	hits := make([]*VectorHit, 0, k)
	for id, vec := range o.vecs {
		if _, live := o.idMap[id]; !live {
			continue
		}
		meta := o.meta[id]
		if where.DocID != "" && meta.DocID != where.DocID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[meta.Filename]; !ok {
				continue
			}
		}
		hits = append(hits, &VectorHit{
			ChunkID: id,
			Score:   clipUnit(float64(dot(q, vec))),
			Meta:    meta,
		})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Delete removes every chunk matching where. Graph nodes are orphaned
// lazily; the snapshot/reload cycle compacts them.
func (x *HNSWVectorIndex) Delete(ctx context.Context, where Where) error {
	if where.OrganizationID == "" {
		return ErrOrgScopeMissing
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("vector index is closed")
	}

	org := x.orgs[where.OrganizationID]
	if org == nil {
		return nil
	}

	allowed := filenameSet(where.Filenames)
	for id, meta := range org.meta {
		if where.DocID != "" && meta.DocID != where.DocID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[meta.Filename]; !ok {
				continue
			}
		}
		if key, exists := org.idMap[id]; exists {
			delete(org.keyMap, key)
			delete(org.idMap, id)
		}
		delete(org.vecs, id)
		delete(org.meta, id)
	}

	return nil
}

// Count returns the number of live chunks matching where.
func (x *HNSWVectorIndex) Count(where Where) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return 0
	}

	org := x.orgs[where.OrganizationID]
	if org == nil {
		return 0
	}
	if where.DocID == "" && len(where.Filenames) == 0 {
		return len(org.idMap)
	}

	allowed := filenameSet(where.Filenames)
	n := 0
	for id := range org.idMap {
		meta := org.meta[id]
		if where.DocID != "" && meta.DocID != where.DocID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[meta.Filename]; !ok {
				continue
			}
		}
		n++
	}
	return n
}

// Save persists a snapshot atomically (temp file + rename).
func (x *HNSWVectorIndex) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return fmt.Errorf("vector index is closed")
	}
	if x.path == "" {
		return nil // in-memory index
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("create vector index directory: %w", err)
	}

	snap := vectorSnapshot{Dims: x.dims, Orgs: make(map[string]orgSnapshot, len(x.orgs))}
	for orgID, org := range x.orgs {
		live := orgSnapshot{
			Vecs: make(map[string][]float32, len(org.idMap)),
			Meta: make(map[string]ChunkMeta, len(org.idMap)),
		}
		for id := range org.idMap {
			live.Vecs[id] = org.vecs[id]
			live.Meta[id] = org.meta[id]
		}
		snap.Orgs[orgID] = live
	}

	tmpPath := x.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector snapshot: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode vector snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush vector snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close vector snapshot: %w", err)
	}

	return os.Rename(tmpPath, x.path)
}

// load restores a snapshot, rebuilding the per-organization graphs.
func (x *HNSWVectorIndex) load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh start
		}
		return fmt.Errorf("open vector snapshot: %w", err)
	}
	defer file.Close()

	var snap vectorSnapshot
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&snap); err != nil {
		return fmt.Errorf("decode vector snapshot: %w", err)
	}
	if snap.Dims != x.dims {
		return ErrDimensionMismatch{Expected: x.dims, Got: snap.Dims}
	}

	for orgID, osnap := range snap.Orgs {
		org := newOrgVectors()
		for id, vec := range osnap.Vecs {
			key := org.nextKey
			org.nextKey++
			org.graph.Add(hnsw.MakeNode(key, vec))
			org.idMap[id] = key
			org.keyMap[key] = id
			org.vecs[id] = vec
			org.meta[id] = osnap.Meta[id]
		}
		x.orgs[orgID] = org
	}

	return nil
}

// Close releases resources.
func (x *HNSWVectorIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	x.orgs = nil
	return nil
}

func sortHits(hits []*VectorHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func filenameSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func clipUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
