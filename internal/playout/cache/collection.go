package cache

import (
	"fmt"
	"sort"
)

// Document is a cacheable record.
type Document[T any] interface {
	DocumentID() string
	DeepCopy() T
}

// Collection is an in-memory working set of one document type with
// per-document dirty and removed flags. Reads hand out copies; writes go
// through Insert, Update and Remove.
//
// Not safe for concurrent use: a collection belongs to the single job
// holding the playlist lock.
type Collection[T Document[T]] struct {
	name    string
	docs    map[string]T
	dirty   map[string]bool
	removed map[string]bool
}

func newCollection[T Document[T]](name string, items []T) *Collection[T] {
	c := &Collection[T]{
		name:    name,
		docs:    make(map[string]T, len(items)),
		dirty:   make(map[string]bool),
		removed: make(map[string]bool),
	}
	for _, doc := range items {
		c.docs[doc.DocumentID()] = doc
	}
	return c
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Len returns the number of live documents.
func (c *Collection[T]) Len() int { return len(c.docs) }

// Get returns a copy of the document.
func (c *Collection[T]) Get(id string) (T, bool) {
	doc, ok := c.docs[id]
	if !ok {
		var zero T
		return zero, false
	}
	return doc.DeepCopy(), true
}

// Has reports whether a live document exists.
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.docs[id]
	return ok
}

// Find returns copies of the matching documents, ordered by ID.
func (c *Collection[T]) Find(match func(T) bool) []T {
	ids := make([]string, 0, len(c.docs))
	for id, doc := range c.docs {
		if match == nil || match(doc) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = c.docs[id].DeepCopy()
	}
	return out
}

// Insert adds or replaces a document.
func (c *Collection[T]) Insert(doc T) {
	id := doc.DocumentID()
	c.docs[id] = doc.DeepCopy()
	c.dirty[id] = true
	delete(c.removed, id)
}

// Update applies fn to the stored document and marks it dirty.
func (c *Collection[T]) Update(id string, fn func(doc T)) error {
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrDocumentNotFound, c.name, id)
	}
	fn(doc)
	if doc.DocumentID() != id {
		return fmt.Errorf("%w: %s %s changed its id", ErrInvalidUpdate, c.name, id)
	}
	c.dirty[id] = true
	return nil
}

// Remove deletes a document. It reports whether the document existed.
func (c *Collection[T]) Remove(id string) bool {
	if _, ok := c.docs[id]; !ok {
		return false
	}
	delete(c.docs, id)
	delete(c.dirty, id)
	c.removed[id] = true
	return true
}

// RemoveWhere deletes every matching document and returns their IDs.
func (c *Collection[T]) RemoveWhere(match func(T) bool) []string {
	var ids []string
	for id, doc := range c.docs {
		if match(doc) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.Remove(id)
	}
	return ids
}

// IsDirty reports whether the collection has unsaved changes.
func (c *Collection[T]) IsDirty() bool {
	return len(c.dirty) > 0 || len(c.removed) > 0
}

// IsDocumentDirty reports whether a single document changed.
func (c *Collection[T]) IsDocumentDirty(id string) bool {
	return c.dirty[id] || c.removed[id]
}

// changes returns the documents to write and the IDs to delete, both sorted.
func (c *Collection[T]) changes() (upsert []T, remove []string) {
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		upsert = append(upsert, c.docs[id].DeepCopy())
	}
	for id := range c.removed {
		remove = append(remove, id)
	}
	sort.Strings(remove)
	return upsert, remove
}

func (c *Collection[T]) markClean() {
	c.dirty = make(map[string]bool)
	c.removed = make(map[string]bool)
}
