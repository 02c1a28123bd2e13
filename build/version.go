package build

var CurrentCommit string

// BuildVersion is the local build version.
const BuildVersion = "0.7.1"

func UserVersion() string {
	return BuildVersion + CurrentCommit
}
