package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// flatHeaderMagic identifies the sidecar file format; flatHeaderSize is the
// fixed-width header recording the instance-scoped dimension.
const (
	flatHeaderMagic = uint32(0xB05E11E0)
	flatHeaderSize  = 8 // magic (4 bytes) + dimension (4 bytes)
)

// record is one fixed-width (id, embedding) slot persisted in the
// memory-mapped file: a 26-byte ULID string plus dimension float32s.
const idFieldSize = 26

// Flat is the default, embedded vector index: a single memory-mappable
// file holding fixed-width records, searched by brute-force cosine
// similarity. Brute-force scan keeps the sidecar a single memory-mappable
// file with exact (not approximate) neighborhoods; an ANN structure can
// replace it behind the same interface if scan cost ever dominates.
type Flat struct {
	mu        sync.RWMutex
	file      *os.File
	mapping   mmap.MMap
	dimension int
	recordLen int
	// ids maps claim id -> record slot index, for O(1) lookup and delete.
	ids map[string]int
	// free holds slot indices of tombstoned records, reused on insert.
	free []int
}

// OpenFlat opens (creating if absent) a memory-mapped flat vector index at
// path with the given fixed dimension.
func OpenFlat(path string, dimension int) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector: dimension must be > 0, got %d", dimension)
	}

	f := &Flat{
		dimension: dimension,
		recordLen: idFieldSize + 1 + dimension*4, // +1 tombstone byte
		ids:       make(map[string]int),
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("vector: open %s: %w", path, err)
	}
	f.file = file

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("vector: stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		if err := f.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
	}

	if err := f.remap(); err != nil {
		file.Close()
		return nil, err
	}

	if err := f.validateHeader(); err != nil {
		f.Close()
		return nil, err
	}

	f.loadIndex()
	return f, nil
}

func (f *Flat) writeHeader() error {
	var hdr [flatHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], flatHeaderMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(f.dimension))
	if _, err := f.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("vector: write header: %w", err)
	}
	return nil
}

func (f *Flat) validateHeader() error {
	magic := binary.LittleEndian.Uint32(f.mapping[0:4])
	if magic != flatHeaderMagic {
		return fmt.Errorf("vector: corrupt sidecar header (bad magic)")
	}
	dim := int(binary.LittleEndian.Uint32(f.mapping[4:8]))
	if dim != f.dimension {
		return fmt.Errorf("vector: sidecar dimension %d does not match instance dimension %d", dim, f.dimension)
	}
	return nil
}

func (f *Flat) remap() error {
	if f.mapping != nil {
		_ = f.mapping.Unmap()
	}
	info, err := f.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < flatHeaderSize {
		if err := f.file.Truncate(flatHeaderSize); err != nil {
			return err
		}
	}
	m, err := mmap.Map(f.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("vector: mmap: %w", err)
	}
	f.mapping = m
	return nil
}

func (f *Flat) loadIndex() {
	n := f.recordCount()
	for i := 0; i < n; i++ {
		off := flatHeaderSize + i*f.recordLen
		tombstone := f.mapping[off+idFieldSize]
		id := decodeID(f.mapping[off : off+idFieldSize])
		if tombstone == 1 {
			f.free = append(f.free, i)
			continue
		}
		if id == "" {
			f.free = append(f.free, i)
			continue
		}
		f.ids[id] = i
	}
}

func (f *Flat) recordCount() int {
	return (len(f.mapping) - flatHeaderSize) / f.recordLen
}

func encodeID(id string) [idFieldSize]byte {
	var b [idFieldSize]byte
	copy(b[:], id)
	return b
}

func decodeID(b []byte) string {
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}

// Dimension returns the instance-fixed embedding width.
func (f *Flat) Dimension() int { return f.dimension }

// Count returns the number of live (non-tombstoned) vectors.
func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Insert stores or replaces the vector for id.
func (f *Flat) Insert(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != f.dimension {
		return dimensionError("vector.Insert", f.dimension, len(embedding))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	slot, exists := f.ids[id]
	if !exists {
		if len(f.free) > 0 {
			slot = f.free[len(f.free)-1]
			f.free = f.free[:len(f.free)-1]
		} else {
			slot = f.recordCount()
			if err := f.grow(slot + 1); err != nil {
				return err
			}
		}
		f.ids[id] = slot
	}

	f.writeRecord(slot, id, embedding)
	return nil
}

func (f *Flat) grow(slots int) error {
	newSize := int64(flatHeaderSize + slots*f.recordLen)
	if err := f.file.Truncate(newSize); err != nil {
		return fmt.Errorf("vector: grow: %w", err)
	}
	return f.remap()
}

func (f *Flat) writeRecord(slot int, id string, embedding []float32) {
	off := flatHeaderSize + slot*f.recordLen
	idBytes := encodeID(id)
	copy(f.mapping[off:off+idFieldSize], idBytes[:])
	f.mapping[off+idFieldSize] = 0 // live
	vecOff := off + idFieldSize + 1
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(f.mapping[vecOff+i*4:vecOff+i*4+4], math.Float32bits(v))
	}
}

func (f *Flat) readRecord(slot int) (string, []float32) {
	off := flatHeaderSize + slot*f.recordLen
	id := decodeID(f.mapping[off : off+idFieldSize])
	vecOff := off + idFieldSize + 1
	embedding := make([]float32, f.dimension)
	for i := range embedding {
		bits := binary.LittleEndian.Uint32(f.mapping[vecOff+i*4 : vecOff+i*4+4])
		embedding[i] = math.Float32frombits(bits)
	}
	return id, embedding
}

// Delete removes id's vector, if present.
func (f *Flat) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.ids[id]
	if !ok {
		return nil
	}
	off := flatHeaderSize + slot*f.recordLen
	f.mapping[off+idFieldSize] = 1 // tombstone
	delete(f.ids, id)
	f.free = append(f.free, slot)
	return nil
}

// Search performs a brute-force cosine similarity scan over all live
// vectors.
func (f *Flat) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]Match, error) {
	if len(query) != f.dimension {
		return nil, dimensionError("vector.Search", f.dimension, len(query))
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(f.ids))
	for id, slot := range f.ids {
		_, vec := f.readRecord(slot)
		sim := cosineSimilarity(query, vec, queryNorm)
		if sim >= threshold {
			matches = append(matches, Match{ClaimID: id, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ClaimID > matches[j].ClaimID // descending id: prefer newer
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, aNorm float64) float64 {
	bNorm := norm(b)
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

// Rebuild clears the index and repopulates it from src. Implements the
// stop-the-world rebuild protocol's data-side half; the serving/rebuilding
// lifecycle gate itself lives in internal/reindex.
func (f *Flat) Rebuild(ctx context.Context, src func(yield func(id string, embedding []float32) bool) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Truncate(flatHeaderSize); err != nil {
		return fmt.Errorf("vector: rebuild truncate: %w", err)
	}
	if err := f.remap(); err != nil {
		return err
	}
	if err := f.writeHeader(); err != nil {
		return err
	}
	f.ids = make(map[string]int)
	f.free = nil

	var rebuildErr error
	next := 0
	err := src(func(id string, embedding []float32) bool {
		if len(embedding) != f.dimension {
			return true // skip malformed rows rather than abort the whole rebuild
		}
		if err := f.grow(next + 1); err != nil {
			rebuildErr = err
			return false
		}
		f.writeRecord(next, id, embedding)
		f.ids[id] = next
		next++
		return true
	})
	if err != nil {
		return fmt.Errorf("vector: rebuild source: %w", err)
	}
	return rebuildErr
}

// Close releases the mmap and underlying file handle.
func (f *Flat) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.mapping != nil {
		err = f.mapping.Unmap()
	}
	if cerr := f.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
