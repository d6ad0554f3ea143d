// Package proxy implements the client-facing file session: open runs the
// check-on-open state machine against the file server (metadata, local slot
// lock, consistency check, fetch or reuse, private copy for writers), and
// read/write/lseek/close operate on per-client handle tables. Writers work on
// private copies that are pushed back to the server in chunks at close.
package proxy
