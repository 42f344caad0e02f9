package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemHealth reports process, host and database health in one place.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":     "ok",
		"goroutines": runtime.NumGoroutine(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		response["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		response["memory"] = map[string]interface{}{
			"total_mb":     memStat.Total / 1024 / 1024,
			"used_mb":      memStat.Used / 1024 / 1024,
			"used_percent": memStat.UsedPercent,
		}
	}

	degraded := false
	dbHealth := make(map[string]interface{}, len(s.databases))
	for _, db := range s.databases {
		entry := map[string]interface{}{"status": "ok"}

		if err := db.QuickCheck(r.Context()); err != nil {
			entry["status"] = "error"
			entry["error"] = err.Error()
			degraded = true
		} else if stats, err := db.GetStats(); err == nil {
			entry["size_bytes"] = stats.SizeBytes
			entry["wal_size_bytes"] = stats.WALSizeBytes
		}

		dbHealth[db.Name()] = entry
	}
	response["databases"] = dbHealth

	status := http.StatusOK
	if degraded {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, response)
}
