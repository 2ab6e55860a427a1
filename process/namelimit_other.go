//go:build !linux
// +build !linux

package process

const nameLimit = 0
