//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var sharedPrincipals = []string{
	"everyone",
	"authenticated users",
	"builtin\\users",
	"users",
}

// checkFilePermissions warns when icacls lists a shared principal on an
// extraction config.
func checkFilePermissions(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	output, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}
	acl := strings.ToLower(string(output))

	for _, principal := range sharedPrincipals {
		if strings.Contains(acl, principal) {
			return fmt.Sprintf(
				"WARNING: extraction config '%s' may be readable by other users\n"+
					"         It may hold source passwords or bucket secret keys.\n"+
					"         Run in PowerShell to secure:\n"+
					"         icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
				path, path,
			)
		}
	}
	return ""
}
