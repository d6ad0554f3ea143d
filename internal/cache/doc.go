// Package cache manages the proxy's flat, capacity-bounded cache directory.
// A single Manager owns the version registry (server path -> cached versions,
// oldest first), the LRU order used to pick eviction victims, the in-use
// reference counts of open local files and the pending reservations of files
// still being written. Every mutation of that aggregate happens under one
// mutex so reservation, eviction and registration are atomic with respect to
// each other. Free space is always derived from the directory itself rather
// than from recorded metadata.
//
// The package also provides per-name slot locks that serialize local clients
// racing to fetch the same server path, and the naming scheme used for
// private write copies and conflict copies.
package cache
