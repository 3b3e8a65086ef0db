// Package buildinfo holds version metadata stamped at build time.
package buildinfo

// Set via -ldflags "-X github.com/yaananth/chatmock/internal/buildinfo.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)
