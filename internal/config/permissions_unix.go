//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions warns when an extraction config holding source or
// bucket credentials is readable by group or others.
func checkFilePermissions(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Sprintf(
			"WARNING: extraction config '%s' is readable by other users (%04o)\n"+
				"         It may hold source passwords or bucket secret keys.\n"+
				"         Run: chmod 600 %s\n\n",
			path, mode, path,
		)
	}
	return ""
}
