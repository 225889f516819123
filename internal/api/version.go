package api

// Build metadata. The binaries overwrite these from their -ldflags values
// before the server starts.
var (
	EngineVersion = "dev"
	GitCommit     = "unknown"
	BuildTime     = "unknown"
)

// BuildInfo reports the build the server runs.
func BuildInfo() VersionInfo {
	return VersionInfo{
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
	}
}
