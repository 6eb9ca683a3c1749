package version

// Package version provides centralized version information for the
// server binary. These variables are injected at build time via
// -ldflags. Default values are used when building without make.

var (
	Version   = "dev"     // Application version
	GitCommit = "unknown" // Git commit hash
	BuildTime = "unknown" // Build timestamp
)
