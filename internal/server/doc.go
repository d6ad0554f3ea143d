// Package server hosts the Fiber application shared by both roles: the
// request-id middleware, error rendering that maps protocol codes to HTTP
// statuses, the bearer-token guard for the server RPC surface, and the
// pooled HTTP client the proxy uses to reach the file server.
// Route registration lives in internal/server/routes so this package keeps a
// narrow surface and accepts explicit dependencies.
package server
