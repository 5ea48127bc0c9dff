// Package logging installs the process-wide structured logger: JSON
// records on stdout, optionally teed into a size-rotated log file with
// gzip-compressed backups.
//
// Rotation keeps <path>.1.gz (newest) through <path>.<backups>.gz
// (oldest) and prunes beyond that, so an unattended watch-mode daemon
// has a bounded disk footprint.
package logging
