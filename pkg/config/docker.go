package config

import (
	"net"
	"os"
	"strings"
	"sync"
)

// dockerHostGateway is the name Docker Desktop and --add-host=host-gateway
// give the machine running the container.
const dockerHostGateway = "host.docker.internal"

// inContainer reports whether the process runs in a container. Tests swap it.
var inContainer = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// SourceHost returns the host to dial for an external SQL source. Inside a
// container a loopback host names the container itself, so it is pointed at
// the Docker host instead and a source saved as "localhost" keeps working.
func SourceHost(host string) string {
	if !inContainer() || !isLoopback(host) {
		return host
	}
	return dockerHostGateway
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
