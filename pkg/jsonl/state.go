package jsonl

import (
	"fmt"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

// State is a read-only snapshot combining the sidecar record with
// filesystem facts at load time.
//
// Fresh is pessimistic: it holds only if the sidecar exists, the data file
// exists, and the sidecar's captured mtime/size exactly match the current
// filesystem facts. Any external modification of the data file — including
// by a tool unaware of the sidecar — makes the snapshot stale.
type State struct {
	DataPath      string
	SidecarPath   string
	Sidecar       Sidecar
	SidecarExists bool
	Fresh         bool
}

// StateRepository answers "what is the current state of this artifact, and
// is it trustworthy?" without touching the data file's contents.
type StateRepository struct {
	fs       fs.FS
	sidecars *SidecarStore
}

// NewStateRepository creates a StateRepository over the given filesystem
// and sidecar store. Panics if either is nil.
func NewStateRepository(fsys fs.FS, sidecars *SidecarStore) *StateRepository {
	if fsys == nil {
		panic(ErrNilFS)
	}

	if sidecars == nil {
		panic("sidecars is nil")
	}

	return &StateRepository{fs: fsys, sidecars: sidecars}
}

// Load returns the state snapshot for path.
//
// Load never fails: "no sidecar yet" is a normal condition, and a missing
// or corrupt sidecar simply yields a zero record with Fresh == false.
func (r *StateRepository) Load(path string) State {
	st := State{
		DataPath:    path,
		SidecarPath: SidecarPath(path),
	}

	exists, err := r.fs.Exists(st.SidecarPath)
	if err == nil {
		st.SidecarExists = exists
	}

	st.Sidecar = r.sidecars.Load(path)
	st.Fresh = st.SidecarExists && r.factsMatch(path, st.Sidecar)

	return st
}

// Ensure forces a zero-delta sidecar touch — creating the sidecar if absent
// and refreshing the captured facts — then loads. Used by tooling that
// wants a guaranteed-current freshness snapshot without writing data.
func (r *StateRepository) Ensure(path string) (State, error) {
	if _, err := r.sidecars.Touch(path, 0, 0, true); err != nil {
		return State{}, fmt.Errorf("touching sidecar: %w", err)
	}

	return r.Load(path), nil
}

// Reset removes the sidecar and index files for path.
func (r *StateRepository) Reset(path string) error {
	return r.sidecars.Reset(path)
}

// factsMatch compares the sidecar's captured mtime/size against the data
// file's current facts.
func (r *StateRepository) factsMatch(path string, sc Sidecar) bool {
	if sc.DataMtime == nil || sc.DataSize == nil {
		return false
	}

	info, err := r.fs.Stat(path)
	if err != nil {
		return false
	}

	return info.ModTime().Unix() == *sc.DataMtime && info.Size() == *sc.DataSize
}
