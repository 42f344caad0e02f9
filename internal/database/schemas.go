package database

import (
	_ "embed"
)

// Schemas are embedded so Migrate works regardless of working directory or
// where the database files live (tests, CI, production).

//go:embed schemas/universe_schema.sql
var universeSchema string

//go:embed schemas/history_schema.sql
var historySchema string

//go:embed schemas/analysis_schema.sql
var analysisSchema string

//go:embed schemas/jobs_schema.sql
var jobsSchema string

//go:embed schemas/cache_schema.sql
var cacheSchema string

func schemaFor(name string) (string, bool) {
	switch name {
	case "universe":
		return universeSchema, true
	case "history":
		return historySchema, true
	case "analysis":
		return analysisSchema, true
	case "jobs":
		return jobsSchema, true
	case "cache":
		return cacheSchema, true
	default:
		return "", false
	}
}
