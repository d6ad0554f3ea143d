// Package filesrv implements the file server side of the session protocol:
// a per-path reader/writer session table, chunked block reads, write
// sessions that replace a file atomically on close, and unlink. Files live
// in a Backend, either a local directory tree or an S3 bucket.
package filesrv
