// Package jsonl provides a durable, crash-resumable, line-delimited JSON
// storage primitive: an append-only [Writer] and a streaming [Reader], each
// aware of a companion sidecar record that tracks row/byte counts,
// timestamps, and completion state without re-scanning the data file.
//
// The package is a single-writer, many-reader, append-only log abstraction.
// It does not provide random access, indexing by arbitrary field, or
// transactional multi-record atomicity.
//
// Files are coupled by naming convention:
//   - data file: caller-supplied path, gzip iff the suffix is .gz or .gzip
//   - sidecar:   <path>.sidecar.json (see [Sidecar], [SidecarStore])
//   - index:     <path>.idx.json (see [TokenIndex])
//   - lock:      <path>.lock (see [fs.Locker])
//
// Every counter mutation is persisted atomically (temp file + rename), so a
// writer killed mid-run can be reopened in append mode and continue with
// counts consistent with prior progress. Losing the very last increment to a
// crash is acceptable; a torn sidecar is not, because that would make row
// counts unrecoverable without a full rescan.
package jsonl
