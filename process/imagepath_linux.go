//go:build linux
// +build linux

package process

import (
	"fmt"
	"os"
	"strings"
)

func imagePath(pid int) (string, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", err
	}

	return strings.TrimSuffix(path, " (deleted)"), nil
}
