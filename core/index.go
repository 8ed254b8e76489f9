package core

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// logEntryIndexByKey map that holds the offset of the latest live set record
// by the associated key
type logEntryIndexByKey map[string]int64

// index in-memory mapping from key to the log offset of its latest set record
type index struct {
	offsets logEntryIndexByKey
}

func newIndex() *index {
	return &index{offsets: make(logEntryIndexByKey)}
}

// upsert points key at offset, replacing any previous offset
func (idx *index) upsert(key string, offset int64) {
	idx.offsets[key] = offset
}

func (idx *index) get(key string) (int64, bool) {
	offset, ok := idx.offsets[key]
	return offset, ok
}

// remove drops key and returns its previous offset, ok is false when the key
// was not indexed
func (idx *index) remove(key string) (int64, bool) {
	offset, ok := idx.offsets[key]
	if ok {
		delete(idx.offsets, key)
	}
	return offset, ok
}

// replace swaps the whole mapping for the one held by other
func (idx *index) replace(other *index) {
	idx.offsets = other.offsets
}

func (idx *index) len() int {
	return len(idx.offsets)
}

// sortedOffsets returns every indexed offset in ascending order together with
// the key stored at each offset
func (idx *index) sortedOffsets() ([]int64, map[int64]string) {
	keysByOffset := make(map[int64]string, len(idx.offsets))
	for key, offset := range idx.offsets {
		keysByOffset[offset] = key
	}

	offsets := maps.Keys(keysByOffset)
	slices.Sort(offsets)

	return offsets, keysByOffset
}

// snapshot returns a copy of the mapping suitable for persisting
func (idx *index) snapshot() logEntryIndexByKey {
	return maps.Clone(idx.offsets)
}

// restore loads a previously persisted mapping
func (idx *index) restore(offsets logEntryIndexByKey) {
	if offsets == nil {
		offsets = make(logEntryIndexByKey)
	}
	idx.offsets = offsets
}
