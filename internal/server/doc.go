// Package server hosts the Fiber HTTP service and the upstream HTTP client.
// It exposes GET /image backed by the cache-then-download loader, a request-id
// middleware, and UpstreamFetcher, the net/http implementation of the
// downloader's fetch capability. Diagnostics under /-/ live in the routes
// subpackage and are attached by the caller, so keep exports narrow and accept
// explicit dependencies.
package server
