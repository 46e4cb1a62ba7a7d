package main

import (
	"testing"

	"storeledger/backend/internal/config"
)

func TestValidateSecurityConfigRejectsShortSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ReportTimezone: "UTC"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestValidateSecurityConfigRejectsUnknownZone(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ReportTimezone: "Mars/Olympus"})
	if err == nil {
		t.Fatalf("expected unknown report timezone to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ReportTimezone: "UTC"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
