// Package memcache keeps decoded images in process memory so that repeated lookups never touch disk.
// The Layer interface lets the cache facade swap the bounded LRU for a NoOp layer when in-memory
// caching is disabled.

package memcache

import "github.com/any-hub/imagehub/internal/imaging"

// Layer is the contract of the in-memory tier. Implementations must be safe for concurrent use.
type Layer interface {
	// Get returns the image for key and whether it was found. It never touches disk or network.
	Get(key string) (*imaging.Image, bool)
	// Put inserts or overwrites key. A non-positive cost is replaced by the image's own estimate.
	Put(key string, img *imaging.Image, cost int64)
	Remove(key string) // Removing an absent key is a no-op.
	Purge()            // Removes all entries.
	Len() int          // Number of entries currently held.
	Cost() int64       // Aggregate cost of the entries currently held.
}

// NoOp is a layer that doesn't store any images. It is used when in-memory caching is disabled.
type NoOp struct{} // Implements Layer.

var _ Layer = NoOp{}

func (NoOp) Get(string) (*imaging.Image, bool) { return nil, false }
func (NoOp) Put(string, *imaging.Image, int64) {}
func (NoOp) Remove(string)                     {}
func (NoOp) Purge()                            {}
func (NoOp) Len() int                          { return 0 }
func (NoOp) Cost() int64                       { return 0 }
