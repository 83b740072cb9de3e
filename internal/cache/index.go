package cache

import "sort"

// TagIndex maps tags to the fingerprints indexed under them. It keeps the
// reverse mapping so a fingerprint can be dropped without scanning every tag.
//
// Not safe for concurrent use; Cache serializes access.
type TagIndex struct {
	byTag   map[string]map[string]struct{}
	byKey   map[string][]string
	lookups int
}

func NewTagIndex() *TagIndex {
	return &TagIndex{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string][]string),
	}
}

// Put indexes key under exactly tags, replacing whatever it was indexed
// under before.
func (ix *TagIndex) Put(key string, tags []string) {
	ix.Remove(key)
	for _, tag := range tags {
		bucket, ok := ix.byTag[tag]
		if !ok {
			bucket = make(map[string]struct{})
			ix.byTag[tag] = bucket
		}
		bucket[key] = struct{}{}
	}
	ix.byKey[key] = append([]string(nil), tags...)
}

// Remove drops key from every tag bucket. Empty buckets are deleted.
func (ix *TagIndex) Remove(key string) {
	tags, ok := ix.byKey[key]
	if !ok {
		return
	}
	for _, tag := range tags {
		bucket := ix.byTag[tag]
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(ix.byTag, tag)
		}
	}
	delete(ix.byKey, key)
}

// Candidates returns the union of the fingerprints registered under tags,
// sorted.
func (ix *TagIndex) Candidates(tags []string) []string {
	ix.lookups++

	seen := make(map[string]struct{})
	for _, tag := range tags {
		for key := range ix.byTag[tag] {
			seen[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Has reports whether key is indexed.
func (ix *TagIndex) Has(key string) bool {
	_, ok := ix.byKey[key]
	return ok
}

// TagsOf returns the tags key is indexed under.
func (ix *TagIndex) TagsOf(key string) []string {
	return append([]string(nil), ix.byKey[key]...)
}

// Keys returns every indexed fingerprint, sorted.
func (ix *TagIndex) Keys() []string {
	out := make([]string, 0, len(ix.byKey))
	for key := range ix.byKey {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Members returns the fingerprints under tag, sorted.
func (ix *TagIndex) Members(tag string) []string {
	out := make([]string, 0, len(ix.byTag[tag]))
	for key := range ix.byTag[tag] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Tags returns every tag with at least one member, sorted.
func (ix *TagIndex) Tags() []string {
	out := make([]string, 0, len(ix.byTag))
	for tag := range ix.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Size is the number of non-empty tags.
func (ix *TagIndex) Size() int {
	return len(ix.byTag)
}

// Lookups counts Candidates calls.
func (ix *TagIndex) Lookups() int {
	return ix.lookups
}
