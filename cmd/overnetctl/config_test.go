package main

import (
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := defaultDemoConfig().validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateAggregatesEveryProblem(t *testing.T) {
	cfg := demoConfig{MSS: 1, Codec: "rot13", LossPercent: 200, Messages: 0}
	err := cfg.validate()
	if err == nil {
		t.Fatalf("want a validation error")
	}
	msg := err.Error()
	for _, want := range []string{"mss", "codec", "loss_percent", "messages"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("want error mentioning %q, got: %s", want, msg)
		}
	}
}

func TestLoadDemoConfigMissingPathUsesDefaults(t *testing.T) {
	cfg, err := loadDemoConfig("")
	if err != nil {
		t.Fatalf("loadDemoConfig(\"\"): %v", err)
	}
	if cfg != defaultDemoConfig() {
		t.Fatalf("want default config, got %+v", cfg)
	}
}

func TestLoadDemoConfigMissingFile(t *testing.T) {
	if _, err := loadDemoConfig("/nonexistent/overnetctl-demo.yaml"); err == nil {
		t.Fatalf("want an error for a nonexistent config path")
	}
}
