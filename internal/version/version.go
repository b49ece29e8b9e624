package version

// These variables are set at build time using ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Full returns a formatted version string
func Full() string {
	return Version + " (commit: " + Commit + ", built: " + BuildDate + ")"
}
