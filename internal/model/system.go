package model

// VersionInfo contains version and schema information for the application.
type VersionInfo struct {
	AppVersion      string `json:"appVersion"`
	DbVersion       int64  `json:"dbVersion"`
	LatestMigration int64  `json:"latestMigration"`
	MigrationNeeded bool   `json:"migrationNeeded"`
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status               string `json:"status"`
	Database             string `json:"database"`
	PendingRegenerations int    `json:"pendingRegenerations"`
}
