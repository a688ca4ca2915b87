package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 16 || got.MaxIdleConns != 8 {
		t.Fatalf("conn defaults = %d/%d", got.MaxOpenConns, got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("ping timeout default = %s", got.PingTimeout)
	}
}

func TestPostgresPoolConfig_KeepsExplicitValues(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 3, PingTimeout: time.Second}.withDefaults()
	if got.MaxOpenConns != 3 {
		t.Fatalf("explicit MaxOpenConns overridden: %d", got.MaxOpenConns)
	}
	if got.PingTimeout != time.Second {
		t.Fatalf("explicit PingTimeout overridden: %s", got.PingTimeout)
	}
}
