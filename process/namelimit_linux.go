//go:build linux
// +build linux

package process

// The kernel keeps at most 15 bytes of the executable name (TASK_COMM_LEN
// minus the terminator).
const nameLimit = 15
