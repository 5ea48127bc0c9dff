// Package watch turns the pipeline into a drop-directory daemon: CSV
// files appearing in a watched directory are handed off in arrival
// order once they stop growing.
//
// A file only counts as arrived after a settle window with no further
// writes, so a source still being copied in is never processed half
// way. Files present before startup are swept first, in name order.
package watch
