package agentmesh

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the release version, overridable at link time:
//
//	go build -ldflags "-X github.com/agentmesh/agentmesh.Version=v1.2.3"
var Version = "0.1.0"

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersion resolves build information, preferring the module version and
// VCS revision embedded by the Go toolchain.
func GetVersion() Info {
	info := Info{
		Version:   Version,
		GitCommit: "unknown",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			info.GitCommit = s.Value
		}
	}
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("AgentMesh %s (commit %s, %s, %s)",
		i.Version, i.GitCommit, i.GoVersion, i.Platform)
}
