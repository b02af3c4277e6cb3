package main

import (
	"strings"
	"testing"
)

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{
		"Basement":            "humidifier.deye_aabbccddee01_dehumidifier",
		"Basement Child Lock": "switch.deye_aabbccddee01_child_lock",
		"Bedroom Humidity":    "sensor.deye_aabbccddee02_humidity",
	}

	id, err := resolveNamedID("entity", "basement", options)
	if err != nil || id != "humidifier.deye_aabbccddee01_dehumidifier" {
		t.Fatalf("exact match: %s %v", id, err)
	}
	id, err = resolveNamedID("entity", "child-lock", options)
	if err != nil || id != "switch.deye_aabbccddee01_child_lock" {
		t.Fatalf("partial match: %s %v", id, err)
	}
	if _, err := resolveNamedID("entity", "ment", options); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if _, err := resolveNamedID("entity", "kitchen", options); err == nil || !strings.Contains(err.Error(), "Available") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestParseServiceData(t *testing.T) {
	data, err := parseServiceData([]string{"humidity=45", "mode=sleep"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if data["humidity"] != "45" || data["mode"] != "sleep" {
		t.Fatalf("unexpected data: %v", data)
	}
	if _, err := parseServiceData([]string{"oops"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
}
