// Package chunk splits a CSV export into size-bounded chunk files.
//
// Each run creates a timestamped directory next to the source file and
// a delivered subdirectory inside it. Every chunk carries a copy of the
// source header so it is independently parseable, and a data row is
// never split across two chunks. The byte ceiling is soft: one row
// larger than the limit becomes a chunk of its own.
package chunk
