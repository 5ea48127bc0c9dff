// Package uploader speaks the ingestion gateway's HTTP protocol: a
// form-encoded credential exchange that yields a bearer token, and one
// multipart POST per chunk file. The client owns the session token for
// the duration of a run and replaces it in place whenever the gateway
// reports it expired.
package uploader
