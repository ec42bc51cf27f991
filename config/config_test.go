package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Transport.TxID != 0x7E0 || cfg.Transport.RxID != 0x7E8 {
		t.Fatalf("unexpected default addressing: %+v", cfg.Transport)
	}
	if cfg.Client.MaxPendingResponses != 10 {
		t.Fatalf("MaxPendingResponses = %d, want 10", cfg.Client.MaxPendingResponses)
	}
	if cfg.KeepAlive.Period != 2000*time.Millisecond {
		t.Fatalf("KeepAlive.Period = %v, want 2s", cfg.KeepAlive.Period)
	}
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udsstack.ini")
	contents := `
[transport]
tx_id = 0x700
rx_id = 0x708
block_size = 8

[client]
p2_timeout_ms = 250

[serial]
port = /dev/ttyACM0
bitrate = 1000000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.TxID != 0x700 {
		t.Errorf("TxID = 0x%X, want 0x700", cfg.Transport.TxID)
	}
	if cfg.Transport.RxID != 0x708 {
		t.Errorf("RxID = 0x%X, want 0x708", cfg.Transport.RxID)
	}
	if cfg.Transport.BlockSize != 8 {
		t.Errorf("BlockSize = %d, want 8", cfg.Transport.BlockSize)
	}
	// Untouched transport fields keep their defaults.
	if cfg.Transport.PadByte != 0xCC {
		t.Errorf("PadByte = 0x%02X, want default 0xCC", cfg.Transport.PadByte)
	}
	if cfg.Client.P2Timeout != 250*time.Millisecond {
		t.Errorf("P2Timeout = %v, want 250ms", cfg.Client.P2Timeout)
	}
	// Untouched client fields keep their defaults.
	if cfg.Client.P2StarTimeout != 5000*time.Millisecond {
		t.Errorf("P2StarTimeout = %v, want default 5000ms", cfg.Client.P2StarTimeout)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("Serial.Port = %q, want /dev/ttyACM0", cfg.Serial.Port)
	}
	if cfg.Serial.Bitrate != 1000000 {
		t.Errorf("Serial.Bitrate = %d, want 1000000", cfg.Serial.Bitrate)
	}
}

func TestLoadMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
