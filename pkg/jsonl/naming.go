package jsonl

import "strings"

// Fixed filename suffixes coupling a data file to its companions.
const (
	sidecarSuffix = ".sidecar.json"
	indexSuffix   = ".idx.json"
	lockSuffix    = ".lock"
)

// SidecarPath returns the sidecar path for a data file.
func SidecarPath(dataPath string) string {
	return dataPath + sidecarSuffix
}

// IndexPath returns the token index path for a data file.
func IndexPath(dataPath string) string {
	return dataPath + indexSuffix
}

// LockPath returns the writer lock path for a data file.
func LockPath(dataPath string) string {
	return dataPath + lockSuffix
}

// gzipPath reports whether path names a gzip-compressed data file.
// Compression is chosen purely by suffix; no explicit flag exists.
func gzipPath(path string) bool {
	return strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".gzip")
}
