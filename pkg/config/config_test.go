package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testYAML = `environment: test
server:
  port: 8080
storage:
  type: memory
forecast:
  model: linear
  min_multiplier: 0.65
  z: 1.5
  horizon_growth: 0.1
  volatility_window: 5
  volatility_floor: 0.4
  min_history: 4
  history_window: 720h
  retry_max: 3
  retry_backoff: 100ms
  linear:
    version: linear-2026-03
    intercept: 0.8
    coefficients:
      demand_index: 0.2
lock:
  ttl: 12h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadForecastSection(t *testing.T) {
	c, err := Load(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	f := c.Forecast
	if f.Model != "linear" || f.Linear.Version != "linear-2026-03" || f.Linear.Intercept != 0.8 {
		t.Fatalf("linear section = %+v", f.Linear)
	}
	if f.Linear.Coefficients["demand_index"] != 0.2 {
		t.Fatalf("coefficients = %v", f.Linear.Coefficients)
	}
	if f.MinHistory != 4 || f.VolatilityFloor != 0.4 || f.HorizonGrowth != 0.1 {
		t.Fatalf("engine knobs = %+v", f)
	}
	if f.RetryMax != 3 || f.RetryBackoff != 100*time.Millisecond {
		t.Fatalf("retry knobs = %+v", f)
	}
	if c.Lock.TTL != 12*time.Hour {
		t.Fatalf("lock ttl = %v", c.Lock.TTL)
	}
}

func TestValidateLinearNeedsCoefficients(t *testing.T) {
	body := `environment: test
storage:
  type: memory
forecast:
  model: linear
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("want error for linear model without coefficients")
	}
}

func TestValidateRejectsUnknownModel(t *testing.T) {
	body := `environment: test
storage:
  type: memory
forecast:
  model: quadratic
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("want error for unknown model")
	}
}

func TestLoadWithEnvOverridesPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	c, err := LoadWithEnv(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", c.Server.Port)
	}

	t.Setenv("SERVER_PORT", "not-a-number")
	c, err = LoadWithEnv(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 8080 {
		t.Fatalf("port = %d, want yaml value 8080 on bad override", c.Server.Port)
	}
}
