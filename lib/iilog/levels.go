package iilog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels sets the default log levels unless the operator overrode
// them through GOLOG_LOG_LEVEL.
func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); !set {
		_ = logging.SetLogLevel("*", "INFO")
		_ = logging.SetLogLevel("rpc", "WARN")
		_ = logging.SetLogLevel("fsjournal", "WARN")
	}
}
