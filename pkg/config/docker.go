package config

import (
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the application is running inside a Docker container.
// Detection is based on the presence of /.dockerenv file which exists in all Docker containers.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveBindAddr returns the address the HTTP server should listen on.
// A loopback bind inside a container is unreachable through published
// ports, so it is widened to all interfaces there.
func ResolveBindAddr(addr string) string {
	return resolveBindAddr(addr, IsRunningInDocker())
}

func resolveBindAddr(addr string, inDocker bool) string {
	if !inDocker {
		return addr
	}
	if addr == "localhost" || addr == "127.0.0.1" {
		return "0.0.0.0"
	}
	return addr
}
