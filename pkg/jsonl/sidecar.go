package jsonl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

const sidecarPerm = 0o644

// Sidecar is the metadata record persisted next to a data file as
// <path>.sidecar.json.
//
// Rows and Bytes only increase monotonically within a single writer
// lifetime. A fresh sidecar always has Completed == false. DataMtime and
// DataSize are filesystem facts captured at last touch; they stay absent
// until first captured and are the basis for freshness validation.
type Sidecar struct {
	Rows      int64      `json:"rows"`
	Bytes     int64      `json:"bytes"`
	Completed bool       `json:"completed"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	DataMtime *int64     `json:"jsonl_mtime,omitempty"`
	DataSize  *int64     `json:"jsonl_size,omitempty"`
}

// SidecarStore loads and persists [Sidecar] records.
//
// Saves go through a write-temp-then-rename sequence so a crash mid-write
// never leaves a half-written sidecar visible at the canonical path. Loads
// never fail: a missing, unreadable, or corrupt sidecar degrades to a zero
// record ("start fresh") so corruption can never block resume.
type SidecarStore struct {
	fs  fs.FS
	now func() time.Time
}

// NewSidecarStore creates a SidecarStore using the given filesystem.
// Panics if fsys is nil.
func NewSidecarStore(fsys fs.FS) *SidecarStore {
	if fsys == nil {
		panic(ErrNilFS)
	}

	return &SidecarStore{
		fs:  fsys,
		now: time.Now,
	}
}

// Load returns the sidecar record for dataPath.
//
// A missing, unreadable, or corrupt sidecar file yields the zero record;
// Load never returns an error.
func (s *SidecarStore) Load(dataPath string) Sidecar {
	sc, _ := s.read(dataPath)

	return sc
}

// read returns the sidecar and whether a valid record was decoded.
func (s *SidecarStore) read(dataPath string) (Sidecar, bool) {
	data, err := s.fs.ReadFile(SidecarPath(dataPath))
	if err != nil {
		return Sidecar{}, false
	}

	var sc Sidecar

	if err := json.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, false
	}

	return sc, true
}

// Touch loads the current record, adds the deltas, stamps UpdatedAt (and
// StartedAt if absent), optionally captures the data file's current
// mtime/size, then persists. The returned record is the persisted one.
func (s *SidecarStore) Touch(dataPath string, rowsDelta, bytesDelta int64, captureFacts bool) (Sidecar, error) {
	return s.update(dataPath, captureFacts, func(sc *Sidecar) {
		sc.Rows += rowsDelta
		sc.Bytes += bytesDelta
	})
}

// MarkComplete forces Completed = true without changing counters, stamping
// timestamps and optionally capturing filesystem facts like [SidecarStore.Touch].
func (s *SidecarStore) MarkComplete(dataPath string, captureFacts bool) (Sidecar, error) {
	return s.update(dataPath, captureFacts, func(sc *Sidecar) {
		sc.Completed = true
	})
}

func (s *SidecarStore) update(dataPath string, captureFacts bool, mutate func(*Sidecar)) (Sidecar, error) {
	sc := s.Load(dataPath)

	mutate(&sc)

	now := s.now().UTC().Truncate(time.Second)
	if sc.StartedAt == nil {
		sc.StartedAt = &now
	}

	sc.UpdatedAt = &now

	if captureFacts {
		s.captureFacts(dataPath, &sc)
	}

	if err := s.Save(dataPath, sc); err != nil {
		return Sidecar{}, err
	}

	return sc, nil
}

// captureFacts records the data file's current mtime/size. A data file that
// doesn't exist yet leaves the facts unchanged.
func (s *SidecarStore) captureFacts(dataPath string, sc *Sidecar) {
	info, err := s.fs.Stat(dataPath)
	if err != nil {
		return
	}

	mtime := info.ModTime().Unix()
	size := info.Size()
	sc.DataMtime = &mtime
	sc.DataSize = &size
}

// Save serializes the record and writes it atomically to <dataPath>.sidecar.json.
//
// Failure to write the temp file or to rename it is propagated, not
// swallowed: losing an increment to a crash is recoverable, a torn sidecar
// is not.
func (s *SidecarStore) Save(dataPath string, sc Sidecar) error {
	data, err := marshalSidecar(sc)
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}

	if err := s.fs.WriteFileAtomic(SidecarPath(dataPath), data, sidecarPerm); err != nil {
		return fmt.Errorf("persisting sidecar: %w", err)
	}

	return nil
}

// Reset removes the sidecar and index files for dataPath, if present.
// Used before truncating a target to begin a genuinely new artifact.
func (s *SidecarStore) Reset(dataPath string) error {
	var errs []error

	for _, path := range []string{SidecarPath(dataPath), IndexPath(dataPath)} {
		err := s.fs.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}

// marshalSidecar renders the pretty-printed, slash-unescaped sidecar JSON.
func marshalSidecar(sc Sidecar) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(sc); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
