// Package version carries the agent build identity.
package version

// Version is the agent release version. Overridable at build time with
// -ldflags "-X github.com/adbtoolkit/agent/internal/version.Version=...".
var Version = "1.2.0"

// Server is the value of the Server response header.
const Server = "adbtoolkit-agent"
