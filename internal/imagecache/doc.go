// Package imagecache composes the memory tier and the disk tier into a single
// read-through / write-through image cache.
//
// Memory operations run on the caller's goroutine under the memory tier lock.
// Disk operations run on one serial background queue per Cache; asynchronous
// results are delivered on their own goroutine so callbacks may call back into
// the cache. A disk hit always re-populates memory.
package imagecache
