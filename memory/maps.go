package memory

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// parseMaps turns the contents of /proc/<pid>/maps into the list of
// file-backed modules, in order of first appearance. A module spans from its
// lowest mapping to the end of its highest one.
func parseMaps(r io.Reader) ([]Module, error) {
	var mods []Module
	index := make(map[string]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		flds := strings.Fields(sc.Text())
		if len(flds) < 6 {
			continue
		}

		path := strings.Join(flds[5:], " ")
		path = strings.TrimSuffix(path, " (deleted)")
		if !strings.HasPrefix(path, "/") {
			continue
		}

		var from, to uint64
		if _, err := fmt.Sscanf(flds[0], "%x-%x", &from, &to); err != nil {
			continue
		}

		if i, ok := index[path]; ok {
			m := &mods[i]
			if end := m.Base + m.Size; to > end {
				m.Size = to - m.Base
			}
			continue
		}

		index[path] = len(mods)
		mods = append(mods, Module{
			Name: filepath.Base(path),
			Path: path,
			Base: from,
			Size: to - from,
		})
	}

	return mods, sc.Err()
}
