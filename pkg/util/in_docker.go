package util

import (
	"os"
	"strings"
)

// IsRunningInDocker reports whether the process runs inside a container,
// either docker or a kubernetes pod.
func IsRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}

	b, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}

	cgroup := string(b)
	return strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "kubepods") || strings.Contains(cgroup, "containerd")
}
