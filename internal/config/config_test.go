package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig fills in the fields Defaults leaves empty.
func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Chain.ComposableCow = "0xfdaFc9d1902f4e0b84f65F49f244b32b31013b74"
	cfg.Chain.OrderHandler = "0x6cF1e9cA41f7611dEf408122793c358a3d11E5a5"
	cfg.Chain.FallbackHandler = "0x2f55e8b20D0B9FEFA187AA7d00B6Cbe563605bF5"
	cfg.Chain.Settlement = "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"
	cfg.Chain.VaultRelayer = "0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"
	cfg.Chain.MultiSend = "0x38869bf66a61cF6bDB996A6aE40D5853Fd43B526"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("complete config passes", func(t *testing.T) {
		cfg := validConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("missing session key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Wallet.PrivateKey = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "private_key or encrypted_key_path") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("encrypted key needs a password", func(t *testing.T) {
		cfg := validConfig()
		cfg.Wallet.PrivateKey = ""
		cfg.Wallet.EncryptedKeyPath = "/etc/polyswap/key.json"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "key_password") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("malformed contract address", func(t *testing.T) {
		cfg := validConfig()
		cfg.Chain.Settlement = "0x1234"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "settlement") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("partial clob credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Polymarket.ApiKey = "key-only"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "set together") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("dsn replaces host fields", func(t *testing.T) {
		cfg := validConfig()
		cfg.Postgres.Host = ""
		cfg.Postgres.Port = 0
		cfg.Postgres.Database = ""
		cfg.Postgres.DSN = "postgres://u:p@db:5432/polyswap"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("all problems reported at once", func(t *testing.T) {
		cfg := validConfig()
		cfg.LogLevel = "loud"
		cfg.Chain.ChainID = 0
		cfg.Redis.Addr = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation errors")
		}
		for _, want := range []string{"log_level", "chain_id", "redis"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error does not mention %s: %v", want, err)
			}
		}
	})

	t.Run("disabled server skips port check", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Enabled = false
		cfg.Server.Port = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}

func TestDurationText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("duration = %v, want 90s", d.Duration)
	}

	out, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(out) != "1m30s" {
		t.Errorf("text = %q", out)
	}

	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYSWAP_CHAIN_RPC_URL", "https://rpc.example.test")
	t.Setenv("POLYSWAP_CHAIN_CHAIN_ID", "80002")
	t.Setenv("POLYSWAP_SERVER_ENABLED", "false")
	t.Setenv("POLYSWAP_FLOW_ORDER_BUDGET", "2m")
	t.Setenv("POLYSWAP_SERVER_CORS_ORIGINS", "https://a.test,https://b.test")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Chain.RPCURL != "https://rpc.example.test" {
		t.Errorf("rpc_url = %q", cfg.Chain.RPCURL)
	}
	if cfg.Chain.ChainID != 80002 {
		t.Errorf("chain_id = %d", cfg.Chain.ChainID)
	}
	if cfg.Server.Enabled {
		t.Error("server still enabled")
	}
	if cfg.Flow.OrderBudget.Duration != 2*time.Minute {
		t.Errorf("order_budget = %v", cfg.Flow.OrderBudget.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://a.test" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
}
