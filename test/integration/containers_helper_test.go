//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"strconv"
)

// containersAvailable reports whether testcontainers can reach a Docker or
// Podman daemon.
func containersAvailable() bool {
	if os.Getenv("DOCKER_HOST") != "" {
		return true
	}
	candidates := []string{"/var/run/docker.sock"}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "podman", "podman.sock"))
	} else if uid := os.Getuid(); uid > 0 {
		candidates = append(candidates, "/run/user/"+strconv.Itoa(uid)+"/podman/podman.sock")
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true
		}
	}
	return false
}
