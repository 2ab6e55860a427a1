// Package process lists the processes running on the host and finds them by
// executable name or image path.
package process

import (
	"iter"
	"path/filepath"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// Entry is one process of a snapshot.
type Entry struct {
	PID        uint32 `json:"pid"`
	PPID       uint32 `json:"ppid"`
	Executable string `json:"executable"`
}

// Enumerator takes process snapshots. The zero value is not usable; see
// Default.
type Enumerator struct {
	// Snapshot lists every process on the host.
	Snapshot func() ([]ps.Process, error)

	// ImagePath returns the full path of the executable image of pid.
	ImagePath func(pid int) (string, error)

	// NameLimit is the length at which the OS cuts process names short,
	// or 0. A name of exactly that length is replaced by the base name of
	// the image when the latter extends it.
	NameLimit int
}

var Default = &Enumerator{
	Snapshot:  ps.Processes,
	ImagePath: imagePath,
	NameLimit: nameLimit,
}

// Enumerate takes a fresh snapshot and yields its entries. Each call of the
// returned sequence takes a new snapshot. A failed snapshot yields nothing.
func (e *Enumerator) Enumerate() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		procs, err := e.Snapshot()
		if err != nil {
			return
		}

		for _, p := range procs {
			if !yield(e.entryOf(p)) {
				return
			}
		}
	}
}

// List returns a whole snapshot at once, reporting snapshot errors.
func (e *Enumerator) List() ([]Entry, error) {
	procs, err := e.Snapshot()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(procs))
	for _, p := range procs {
		entries = append(entries, e.entryOf(p))
	}

	return entries, nil
}

// FindPidByName returns the id of the first process whose executable name is
// exactly name, or 0.
func (e *Enumerator) FindPidByName(name string) uint32 {
	for p := range e.Enumerate() {
		if p.Executable == name {
			return p.PID
		}
	}

	return 0
}

// IsRunning reports whether a process named name (ignoring case) runs the
// image at path (ignoring case). Processes whose image path cannot be
// queried do not match.
func (e *Enumerator) IsRunning(name, path string) bool {
	want := canonical(path)
	for p := range e.Enumerate() {
		if !strings.EqualFold(p.Executable, name) {
			continue
		}

		image, err := e.ImagePath(int(p.PID))
		if err != nil {
			continue
		}

		if strings.EqualFold(canonical(image), want) {
			return true
		}
	}

	return false
}

func (e *Enumerator) entryOf(p ps.Process) Entry {
	entry := Entry{
		PID:        uint32(p.Pid()),
		PPID:       uint32(p.PPid()),
		Executable: p.Executable(),
	}

	if e.NameLimit > 0 && len(entry.Executable) == e.NameLimit && e.ImagePath != nil {
		image, err := e.ImagePath(p.Pid())
		if err == nil {
			base := filepath.Base(image)
			if len(base) > e.NameLimit && strings.HasPrefix(base, entry.Executable) {
				entry.Executable = base
			}
		}
	}

	return entry
}

func Enumerate() iter.Seq[Entry] {
	return Default.Enumerate()
}

func List() ([]Entry, error) {
	return Default.List()
}

func FindPidByName(name string) uint32 {
	return Default.FindPidByName(name)
}

func IsRunning(name, path string) bool {
	return Default.IsRunning(name, path)
}
