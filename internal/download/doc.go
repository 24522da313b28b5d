// Package download fetches remote images with request deduplication.
//
// A Coordinator keeps at most one Task per URL. Every Subscribe attaches a
// handler to the existing task or creates a new one; tasks wait in a deque and
// are dispatched to at most MaxConcurrentDownloads workers in FIFO or LIFO
// order. A worker fetches the body, decodes it, hands the bytes to the optional
// Sink and then delivers the same Result to every handler still registered.
//
// Unsubscribe is handler-scoped and silent. Removing the last handler of a
// task that has not finished cancels the task and aborts its fetch.
package download
