// Package protocol holds the vocabulary shared by the proxy and the file
// server: the errno-style error taxonomy, open modes, seek origins, the
// session descriptor returned when a server session is opened, and the
// chunking rule used for block transfer in both directions. Wire DTOs for the
// /rpc and /v1 HTTP surfaces live here too so that both roles encode the same
// JSON without importing each other.
package protocol
