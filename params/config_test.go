package params

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const admin = "0x00000000000000000000000000000000000000ad"

func TestDefaultsNeedAdmin(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ADMIN_ADDRESS") {
		t.Fatalf("Validate() = %v, want missing admin", err)
	}
	cfg.Exchange.Admin = common.HexToAddress(admin)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ADMIN_ADDRESS", admin)
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("MAX_ORDERS_PER_USER", "5")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("FAUCET_ENABLED", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DATA_DIR", "")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exchange.Admin != common.HexToAddress(admin) {
		t.Errorf("admin = %s", cfg.Exchange.Admin.Hex())
	}
	if cfg.Exchange.FeePercent != 3 || cfg.Exchange.MaxOrdersPerUser != 5 {
		t.Errorf("exchange = %+v", cfg.Exchange)
	}
	if cfg.Node.MinBlockTime != 50*time.Millisecond {
		t.Errorf("min block time = %s", cfg.Node.MinBlockTime)
	}
	if cfg.Node.DataDir != "" {
		t.Errorf("empty DATA_DIR should select memory, got %q", cfg.Node.DataDir)
	}
	if !cfg.API.FaucetEnabled || len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "https://b.example" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Exchange.Custody != DefaultCustody {
		t.Errorf("custody = %s", cfg.Exchange.Custody.Hex())
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHAIN_ID=42\nTREASURY_ADDRESS="+admin+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("CHAIN_ID")
		os.Unsetenv("TREASURY_ADDRESS")
	})

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.ChainID != 42 || cfg.Exchange.Treasury != common.HexToAddress(admin) {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromEnvErrors(t *testing.T) {
	t.Setenv("CUSTODY_ADDRESS", "not-an-address")
	t.Setenv("FEE_PERCENT", "lots")

	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"CUSTODY_ADDRESS", "FEE_PERCENT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Exchange.Admin = common.HexToAddress(admin)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"fee above 100", func(c *Config) { c.Exchange.FeePercent = 101 }},
		{"negative fee", func(c *Config) { c.Exchange.FeePercent = -1 }},
		{"zero max orders", func(c *Config) { c.Exchange.MaxOrdersPerUser = 0 }},
		{"zero custody", func(c *Config) { c.Exchange.Custody = common.Address{} }},
		{"zero block time", func(c *Config) { c.Node.MinBlockTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
