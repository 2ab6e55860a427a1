//go:build windows
// +build windows

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
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var ERROR_OKAY syscall.Errno = 0

const processAllAccess = windows.STANDARD_RIGHTS_REQUIRED | windows.SYNCHRONIZE | 0xFFFF

var (
	kernel32           = windows.NewLazySystemDLL("kernel32.dll")
	virtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	virtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	createRemoteThread = kernel32.NewProc("CreateRemoteThread")
)

type winTarget struct {
	pid      uint32
	hProcess windows.Handle
}

func accessRights(access Access) uint32 {
	if access == AccessAll {
		return processAllAccess
	}

	var rights uint32
	if access&AccessRead != 0 {
		rights |= windows.PROCESS_VM_READ
	}
	if access&AccessWrite != 0 {
		rights |= windows.PROCESS_VM_WRITE
	}
	if access&AccessOperation != 0 {
		rights |= windows.PROCESS_VM_OPERATION
	}
	if access&AccessCreateThread != 0 {
		rights |= windows.PROCESS_CREATE_THREAD
	}
	if access&AccessQuery != 0 {
		rights |= windows.PROCESS_QUERY_INFORMATION
	}

	return rights
}

func openProcess(pid uint32, access Access) (Target, error) {
	h, err := windows.OpenProcess(accessRights(access), false, pid)
	if err != nil {
		return nil, fmt.Errorf("OpenProcess(%d) has failed: %w", pid, err)
	}

	return &winTarget{pid: pid, hProcess: h}, nil
}

func (t *winTarget) Pid() uint32 {
	return t.pid
}

func (t *winTarget) ReadAt(p []byte, addr uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var n uintptr
	err := windows.ReadProcessMemory(t.hProcess, uintptr(addr), &p[0], uintptr(len(p)), &n)
	if err != nil {
		return int(n), fmt.Errorf(
			"ReadProcessMemory(%x, %x, nSize=%d) has failed: %w",
			t.hProcess,
			addr,
			len(p),
			err,
		)
	}

	return int(n), nil
}

func (t *winTarget) WriteAt(p []byte, addr uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var n uintptr
	err := windows.WriteProcessMemory(t.hProcess, uintptr(addr), &p[0], uintptr(len(p)), &n)
	if err != nil {
		return int(n), fmt.Errorf(
			"WriteProcessMemory(%x, %x, nSize=%d) has failed: %w",
			t.hProcess,
			addr,
			len(p),
			err,
		)
	}

	return int(n), nil
}

func (t *winTarget) Unprotect(addr uint64, size int) (func() error, error) {
	var old uint32
	err := windows.VirtualProtectEx(t.hProcess, uintptr(addr), uintptr(size), windows.PAGE_EXECUTE_READWRITE, &old)
	if err != nil {
		return nil, fmt.Errorf("VirtualProtectEx(%x) has failed: %w", addr, err)
	}

	return func() error {
		var tmp uint32
		return windows.VirtualProtectEx(t.hProcess, uintptr(addr), uintptr(size), old, &tmp)
	}, nil
}

func (t *winTarget) Modules() ([]Module, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, t.pid)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot has failed: %w", err)
	}
	defer windows.CloseHandle(snap)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))

	var mods []Module
	err = windows.Module32First(snap, &me)
	for err == nil {
		mods = append(mods, Module{
			Name: windows.UTF16ToString(me.Module[:]),
			Path: windows.UTF16ToString(me.ExePath[:]),
			Base: uint64(me.ModBaseAddr),
			Size: uint64(me.ModBaseSize),
		})
		err = windows.Module32Next(snap, &me)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("Module32Next has failed: %w", err)
	}

	return mods, nil
}

func (t *winTarget) Alloc(size int) (uint64, error) {
	addr, _, err := virtualAllocEx.Call(
		uintptr(t.hProcess),
		0,
		uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_EXECUTE_READWRITE,
	)
	if addr == 0 {
		return 0, fmt.Errorf("VirtualAllocEx has failed: %w", err)
	}

	return uint64(addr), nil
}

func (t *winTarget) Free(addr uint64, size int) error {
	ok, _, err := virtualFreeEx.Call(
		uintptr(t.hProcess),
		uintptr(addr),
		0,
		windows.MEM_RELEASE,
	)
	if ok == 0 {
		return fmt.Errorf("VirtualFreeEx has failed: %w", err)
	}

	return nil
}

func (t *winTarget) CreateThread(entry uint64) (uint32, error) {
	var tid uint32
	h, _, err := createRemoteThread.Call(
		uintptr(t.hProcess),
		0, // lpThreadAttributes
		0, // dwStackSize
		uintptr(entry),
		0, // lpParameter
		0, // dwCreationFlags
		uintptr(unsafe.Pointer(&tid)),
	)
	if h == 0 {
		if err == nil || err == ERROR_OKAY {
			err = windows.GetLastError()
		}
		return 0, fmt.Errorf("CreateRemoteThread has failed: %w", err)
	}

	windows.CloseHandle(windows.Handle(h))
	return tid, nil
}

func (t *winTarget) Close() error {
	if t.hProcess == 0 {
		return nil
	}

	err := windows.CloseHandle(t.hProcess)
	t.hProcess = 0
	return err
}

// vim: ai:ts=8:sw=8:noet:syntax=go
