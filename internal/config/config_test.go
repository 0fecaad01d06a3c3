package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"DATA_FILE", "AUDIT_DRIVER", "MAX_VIOLATIONS", "VIOLATION_COOLDOWN", "HASH_PASSWORDS"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.DataFile != "quiz_data.json" || c.AuditDriver != "sqlite" || c.AccessCodeLength != 8 {
		t.Fatalf("defaults = %+v", c)
	}
	if c.MaxViolations != 3 || c.ViolationCooldown != time.Second || c.MonitorGrace != 2*time.Second {
		t.Fatalf("proctoring defaults = %+v", c)
	}
	if !c.HashPasswords || c.BcryptCost != 12 || c.TempPasswordLength != 8 {
		t.Fatalf("account defaults = %+v", c)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATA_FILE", "/tmp/q.json")
	t.Setenv("AUDIT_DRIVER", "NONE")
	t.Setenv("MAX_VIOLATIONS", "5")
	t.Setenv("VIOLATION_COOLDOWN", "1500ms")
	t.Setenv("MONITOR_GRACE", "garbage")
	t.Setenv("ACCESS_CODE_LENGTH", "-2")
	t.Setenv("HASH_PASSWORDS", "no")

	c := FromEnv()
	if c.DataFile != "/tmp/q.json" || c.AuditDriver != "none" || c.MaxViolations != 5 {
		t.Fatalf("overrides = %+v", c)
	}
	if c.ViolationCooldown != 1500*time.Millisecond {
		t.Fatalf("cooldown = %s", c.ViolationCooldown)
	}
	if c.MonitorGrace != 2*time.Second || c.AccessCodeLength != 8 {
		t.Fatalf("bad values should fall back: grace=%s code=%d", c.MonitorGrace, c.AccessCodeLength)
	}
	if c.HashPasswords {
		t.Fatalf("HASH_PASSWORDS=no ignored")
	}
}
