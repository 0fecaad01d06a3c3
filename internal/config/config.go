package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/peterhellberg/duration"
)

type Config struct {
	DataFile string

	AuditDriver string // sqlite|postgres|none
	AuditDSN    string
	SiteID      string

	AccessCodeLength int

	MaxViolations     int
	ViolationCooldown time.Duration
	MonitorGrace      time.Duration

	HashPasswords      bool
	BcryptCost         int
	TempPasswordLength int
}

func FromEnv() Config {
	return Config{
		DataFile:           envOr("DATA_FILE", "quiz_data.json"),
		AuditDriver:        strings.ToLower(envOr("AUDIT_DRIVER", "sqlite")),
		AuditDSN:           envOr("AUDIT_DSN", ""),
		SiteID:             envOr("SITE_ID", "local"),
		AccessCodeLength:   envInt("ACCESS_CODE_LENGTH", 8),
		MaxViolations:      envInt("MAX_VIOLATIONS", 3),
		ViolationCooldown:  envDuration("VIOLATION_COOLDOWN", time.Second),
		MonitorGrace:       envDuration("MONITOR_GRACE", 2*time.Second),
		HashPasswords:      envBool("HASH_PASSWORDS", true),
		BcryptCost:         envInt("BCRYPT_COST", 12),
		TempPasswordLength: envInt("TEMP_PASSWORD_LENGTH", 8),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

// envInt falls back to def for unset, malformed or non-positive values.
func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		glog.Warningf("config: ignoring %s=%q, using %d", k, v, def)
		return def
	}
	return n
}

// envDuration accepts Go durations plus day and week units ("1s", "500ms", "1w").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := duration.Parse(v)
	if err != nil || d < 0 {
		glog.Warningf("config: ignoring %s=%q, using %s", k, v, def)
		return def
	}
	return d
}
