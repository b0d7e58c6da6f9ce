// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"
)

// Context contains build-time metadata that is not user-configurable.
// It is created once at startup and passed to commands that report it.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// InstanceID identifies this process in logs and MQTT client ids
	InstanceID string
}

// New creates a build context with a fresh instance id. Empty values are
// reported as "dev" and "unknown".
func New(version, buildDate string) *Context {
	if version == "" {
		version = "dev"
	}
	if buildDate == "" {
		buildDate = "unknown"
	}
	return &Context{
		Version:    version,
		BuildDate:  buildDate,
		InstanceID: uuid.NewString(),
	}
}

// ShortID returns the first block of the instance id
func (c *Context) ShortID() string {
	if len(c.InstanceID) < 8 {
		return c.InstanceID
	}
	return c.InstanceID[:8]
}

// String returns a one line version banner
func (c *Context) String() string {
	return fmt.Sprintf("arstream %s (built %s, %s/%s, %s)",
		c.Version, c.BuildDate, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
