package launcher

import (
	"fmt"
	"time"
)

// LaunchSpec describes a single container placement request. The session
// ID doubles as the idempotency key: duplicate launches for the same
// session resolve to the already-placed container.
type LaunchSpec struct {
	SessionID string
	ProjectID string
	Region    string
	ExpiresAt time.Time
	EnvVars   []string
}

type Config struct {
	Image        string
	NetworkName  string
	MemoryMB     int64
	CPU          float64
	DevtoolsPort int
	StopTimeout  int // seconds
}

func ContainerName(sessionID string) string {
	return "browser-" + sessionID
}

// ConnectURL is the externally visible address of a network-ready
// container: the DevTools websocket endpoint on the session network.
func ConnectURL(ip string, port int) string {
	return fmt.Sprintf("ws://%s:%d", ip, port)
}
