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

import (
	"errors"
	"fmt"
)

var (
	ErrAttach          = errors.New("cannot attach to process")
	ErrNoSession       = errors.New("no process is attached")
	ErrProcessNotFound = errors.New("process not found")
	ErrModuleNotFound  = errors.New("module not found")
	ErrEmptyChain      = errors.New("pointer chain is empty")
	ErrChainRead       = errors.New("cannot dereference pointer chain")
	ErrReadFault       = errors.New("short read")
	ErrWriteFault      = errors.New("short write")
	ErrAllocation      = errors.New("cannot allocate remote memory")
	ErrInjection       = errors.New("cannot inject code")
	ErrUnknownLock     = errors.New("unknown lock id")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidSize     = errors.New("invalid read size")
)

// opError ties an engine sentinel to the OS error that caused it, so that
// callers can match on either with errors.Is.
type opError struct {
	kind error
	msg  string
	err  error
}

func (e *opError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.err)
}

func (e *opError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

func wrap(kind, err error, format string, args ...interface{}) error {
	return &opError{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
