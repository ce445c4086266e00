package main

import (
	"testing"

	"github.com/charlzpiarro/update/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsWeakSeedPassword(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:        "0123456789abcdef0123456789abcdef",
		DatabaseURL:       "postgres://localhost/pos",
		SeedAdminPassword: "admin123",
	})
	if err == nil {
		t.Fatalf("expected weak seed password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:        "0123456789abcdef0123456789abcdef",
		DatabaseURL:       "postgres://localhost/pos",
		SeedAdminPassword: "k7#Rq2!vLm9z",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
