/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package memory

// Access selects the rights requested when a process is opened.
type Access uint32

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessOperation
	AccessCreateThread
	AccessQuery

	AccessAll = AccessRead | AccessWrite | AccessOperation | AccessCreateThread | AccessQuery
)

// Module is an executable image mapped into a target process.
type Module struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

// Target is an open handle to the address space of another process. The
// platform backends implement it on top of the OS process APIs; tests use
// in-memory fakes.
type Target interface {
	Pid() uint32

	// ReadAt and WriteAt report how many bytes were transferred. A short
	// transfer may or may not come with an error.
	ReadAt(p []byte, addr uint64) (int, error)
	WriteAt(p []byte, addr uint64) (int, error)

	// Unprotect makes [addr, addr+size) readable, writable and executable.
	// The returned func puts the previous protection back.
	Unprotect(addr uint64, size int) (restore func() error, err error)

	// Modules lists the images currently loaded, in loader order.
	Modules() ([]Module, error)

	// Alloc reserves size bytes of read-write-execute memory.
	Alloc(size int) (uint64, error)
	Free(addr uint64, size int) error

	// CreateThread starts a new thread at entry and returns its id. The
	// thread is not owned by the caller.
	CreateThread(entry uint64) (uint32, error)

	Close() error
}

// Opener opens a Target for pid.
type Opener func(pid uint32, access Access) (Target, error)

// OpenProcess opens pid with the backend of the host OS.
func OpenProcess(pid uint32, access Access) (Target, error) {
	return openProcess(pid, access)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
