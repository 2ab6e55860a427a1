//go:build linux && amd64
// +build linux,amd64

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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const threadStackSize = 1 << 20

const cloneFlags = unix.CLONE_VM | unix.CLONE_FS | unix.CLONE_FILES |
	unix.CLONE_SIGHAND | unix.CLONE_THREAD | unix.CLONE_SYSVSEM

// tracee is a process stopped under ptrace. All of its methods must be
// called from the OS thread that attached.
type tracee struct {
	pid int
}

// trace stops the process for the duration of fn. ptrace requests are only
// accepted from the thread that attached, so the goroutine is pinned. A
// failed detach is joined to the result of fn.
func (t *procTarget) trace(fn func(tr *tracee) error) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err = unix.PtraceAttach(t.pid)
	if err != nil {
		return fmt.Errorf("cannot attach: %w", err)
	}

	tr := &tracee{pid: t.pid}
	defer func() {
		if derr := unix.PtraceDetach(t.pid); derr != nil {
			err = errors.Join(err, fmt.Errorf("cannot detach from %d: %w", t.pid, derr))
		}
	}()

	if err := tr.waitTrap(unix.SIGSTOP); err != nil {
		return err
	}

	return fn(tr)
}

// waitTrap waits until the tracee stops with want. Any other signal is
// passed on to the process.
func (tr *tracee) waitTrap(want unix.Signal) error {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(tr.pid, &ws, unix.WALL, nil)
		if err != nil {
			return fmt.Errorf("cannot wait: %w", err)
		}

		switch {
		case ws.Exited():
			return fmt.Errorf("process exited with status %d", ws.ExitStatus())
		case ws.Signaled():
			return fmt.Errorf("process killed by %s", ws.Signal())
		case !ws.Stopped():
			continue
		case ws.StopSignal() == want:
			return nil
		}

		if err := unix.PtraceCont(tr.pid, int(ws.StopSignal())); err != nil {
			return fmt.Errorf("cannot continue: %w", err)
		}
	}
}

// run resumes the tracee with regs until it hits a breakpoint and returns
// the registers at that point.
func (tr *tracee) run(regs unix.PtraceRegs) (unix.PtraceRegs, error) {
	regs.Orig_rax = ^uint64(0)
	err := unix.PtraceSetRegs(tr.pid, &regs)
	if err != nil {
		return regs, fmt.Errorf("cannot set new regs: %w", err)
	}

	err = unix.PtraceCont(tr.pid, 0)
	if err != nil {
		return regs, fmt.Errorf("cannot continue: %w", err)
	}

	if err := tr.waitTrap(unix.SIGTRAP); err != nil {
		return regs, err
	}

	err = unix.PtraceGetRegs(tr.pid, &regs)
	if err != nil {
		return regs, fmt.Errorf("cannot read regs after call: %w", err)
	}

	return regs, nil
}

func setArgs(regs *unix.PtraceRegs, nr uintptr, args []uint64) error {
	regs.Rax = uint64(nr)
	for i, v := range args {
		switch i {
		case 0:
			regs.Rdi = v
		case 1:
			regs.Rsi = v
		case 2:
			regs.Rdx = v
		case 3:
			regs.R10 = v
		case 4:
			regs.R8 = v
		case 5:
			regs.R9 = v
		default:
			return fmt.Errorf("too many arguments: %v", args)
		}
	}

	return nil
}

func sysResult(rax uint64) (uint64, error) {
	if int64(rax) >= -4095 && int64(rax) < 0 {
		return 0, unix.Errno(-int64(rax))
	}

	return rax, nil
}

// syscall performs a system call inside the tracee by placing
// "syscall; int3" at the current instruction pointer. The original bytes and
// registers are restored afterwards; a failed restore is joined to the
// result.
func (tr *tracee) syscall(nr uintptr, args ...uint64) (ret uint64, err error) {
	var regs unix.PtraceRegs
	err = unix.PtraceGetRegs(tr.pid, &regs)
	if err != nil {
		return 0, fmt.Errorf("cannot read regs: %w", err)
	}

	pc := uintptr(regs.PC())
	orig := [8]byte{}
	_, err = unix.PtracePeekData(tr.pid, pc, orig[:])
	if err != nil {
		return 0, fmt.Errorf("cannot peek %x: %w", pc, err)
	}

	mod := orig
	copy(mod[:], []byte{0x0f, 0x05, 0xcc})
	_, err = unix.PtracePokeData(tr.pid, pc, mod[:])
	if err != nil {
		return 0, fmt.Errorf("cannot poke %x: %w", pc, err)
	}

	defer func() {
		if _, perr := unix.PtracePokeData(tr.pid, pc, orig[:]); perr != nil {
			err = errors.Join(err, fmt.Errorf("cannot poke back to %x: %w", pc, perr))
		}
		if rerr := unix.PtraceSetRegs(tr.pid, &regs); rerr != nil {
			err = errors.Join(err, fmt.Errorf("cannot write regs back: %w", rerr))
		}
	}()

	scregs := regs
	if err := setArgs(&scregs, nr, args); err != nil {
		return 0, err
	}

	scregs, err = tr.run(scregs)
	if err != nil {
		return 0, err
	}

	return sysResult(scregs.Rax)
}

func (tr *tracee) mmap(size int, prot int) (uint64, error) {
	return tr.syscall(
		unix.SYS_MMAP,
		0,            // addr
		uint64(size), // length
		uint64(prot),
		uint64(unix.MAP_ANON|unix.MAP_PRIVATE),
		^uint64(0), // fd: -1
		0,          // offset
	)
}

func (tr *tracee) munmap(addr uint64, size int) error {
	_, err := tr.syscall(unix.SYS_MUNMAP, addr, uint64(pageAlign(size)))
	if err != nil {
		return fmt.Errorf("cannot unmap %#x: %w", addr, err)
	}
	return nil
}

func pageAlign(size int) int {
	page := os.Getpagesize()
	return (size + page - 1) &^ (page - 1)
}

func (t *procTarget) Alloc(size int) (uint64, error) {
	var addr uint64
	err := t.trace(func(tr *tracee) (err error) {
		addr, err = tr.mmap(pageAlign(size), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cannot map %d bytes: %w", size, err)
	}

	return addr, nil
}

func (t *procTarget) Free(addr uint64, size int) error {
	return t.trace(func(tr *tracee) error {
		return tr.munmap(addr, size)
	})
}

// trampoline is executed by both sides of a clone:
//
//	syscall
//	test rax, rax
//	jnz  parent
//	mov  rax, entry
//	jmp  rax
//	parent: int3
func trampoline(entry uint64) []byte {
	code := []byte{
		0x0f, 0x05,
		0x48, 0x85, 0xc0,
		0x75, 0x0c,
		0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xe0,
		0xcc,
	}
	binary.LittleEndian.PutUint64(code[9:], entry)

	return code
}

// CreateThread starts a new thread of the tracee at entry on a private
// stack. The stack and the trampoline page stay mapped for the lifetime of
// the thread, which cannot be known from here.
func (t *procTarget) CreateThread(entry uint64) (uint32, error) {
	var tid uint64
	err := t.trace(func(tr *tracee) error {
		stack, err := tr.mmap(threadStackSize, unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return fmt.Errorf("cannot map thread stack: %w", err)
		}

		code := trampoline(entry)
		tramp, err := tr.mmap(len(code), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
		if err != nil {
			return errors.Join(
				fmt.Errorf("cannot map trampoline: %w", err),
				tr.munmap(stack, threadStackSize),
			)
		}

		n, err := t.WriteAt(code, tramp)
		if n != len(code) {
			if err == nil {
				err = io.ErrShortWrite
			}
			return errors.Join(
				fmt.Errorf("cannot write trampoline: %w", err),
				tr.munmap(tramp, len(code)),
				tr.munmap(stack, threadStackSize),
			)
		}

		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(tr.pid, &regs); err != nil {
			return fmt.Errorf("cannot read regs: %w", err)
		}

		cregs := regs
		cregs.SetPC(tramp)
		setArgs(&cregs, unix.SYS_CLONE, []uint64{
			cloneFlags,
			stack + threadStackSize - 8, // newsp
			0, 0, 0,
		})

		cregs, err = tr.run(cregs)
		if rerr := unix.PtraceSetRegs(tr.pid, &regs); rerr != nil {
			err = errors.Join(err, fmt.Errorf("cannot write regs back: %w", rerr))
		}
		if err != nil {
			return err
		}

		tid, err = sysResult(cregs.Rax)
		return err
	})
	if err != nil {
		return 0, err
	}

	return uint32(tid), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
