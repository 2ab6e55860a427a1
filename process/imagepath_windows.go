//go:build windows
// +build windows

package process

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func imagePath(pid int) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return "", fmt.Errorf("OpenProcess(%d) has failed: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	err = windows.QueryFullProcessImageName(h, 0, &buf[0], &size)
	if err != nil {
		return "", fmt.Errorf("QueryFullProcessImageName(%d) has failed: %w", pid, err)
	}

	return windows.UTF16ToString(buf[:size]), nil
}
