// Package cache implements the persistent image tier. Every key is stored as a
// single file named after a hash of the key inside the namespace root; there is
// no index file, so existence, size and age are always read back from the
// filesystem. Writes go through a temp file + rename so a reader never sees a
// half-written body. Additional read-only roots (bundled assets) are consulted
// after the primary root and are never written to. The filesystem itself is a
// go-billy capability, which lets tests run against memfs or a temp directory.
package cache
