package app

import "time"

const (
	Name                 = "pvmon"
	SourceURL            = "https://github.com/pvmon/pvmon"
	ConfigFilename       = "config.yaml"
	DBFilename           = "archive.db"
	ArchiveLockFilename  = "archive.lock"
	LogFilename          = "pvmon.log"
	DefaultHistoryLimit  = 50
	archivePruneInterval = time.Hour
)
