package config

import (
	"strings"
	"testing"
)

type envTestStruct struct {
	Env string `validate:"env"`
}

func TestValidateEnvironment(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"", false},
		{"prod", false},
		{"Production", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			err := validate.Struct(envTestStruct{Env: tt.env})
			if tt.valid && err != nil {
				t.Errorf("expected %q to be valid, got %v", tt.env, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("expected %q to be invalid", tt.env)
			}
		})
	}
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name  string
		src   SourceConfig
		field string
	}{
		{name: "memory needs nothing", src: SourceConfig{Type: "memory"}},
		{name: "http without base url", src: SourceConfig{Type: "http"}, field: "HTTP.BaseURL"},
		{name: "http with blank base url", src: SourceConfig{Type: "http", HTTP: HTTPSourceConfig{BaseURL: "  "}}, field: "HTTP.BaseURL"},
		{name: "http with base url", src: SourceConfig{Type: "http", HTTP: HTTPSourceConfig{BaseURL: "https://pipeline.local"}}},
		{name: "postgres without dsn", src: SourceConfig{Type: "postgres"}, field: "Postgres.DSN"},
		{name: "postgres with dsn", src: SourceConfig{Type: "postgres", Postgres: PostgresConfig{DSN: "postgres://localhost/flows"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Source = tt.src

			err := ValidateWithDetails(cfg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			details, ok := err.(ValidationErrors)
			if !ok {
				t.Fatalf("expected ValidationErrors, got %T (%v)", err, err)
			}
			if !details.Has(tt.field) {
				t.Errorf("expected error on %s, got %v", tt.field, details)
			}
		})
	}
}

func TestValidationErrors_Message(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.Type = "redis"
	cfg.Events.Redis.Address = ""
	cfg.Log.Format = "xml"

	err := ValidateWithDetails(cfg)
	details, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T (%v)", err, err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(details), details)
	}

	msg := details.Error()
	if !strings.Contains(msg, "required when events.type=redis") {
		t.Errorf("missing required_for message in %q", msg)
	}
	if !strings.Contains(msg, "must be one of [json text]") {
		t.Errorf("missing oneof message in %q", msg)
	}
	if details.Has("Storage.Badger.Path") {
		t.Error("unexpected storage error")
	}
}

func TestValidationErrors_Empty(t *testing.T) {
	var details ValidationErrors
	if details.Error() != "no validation errors" {
		t.Errorf("unexpected message %q", details.Error())
	}
	if details.Has("App.Name") {
		t.Error("empty errors match nothing")
	}
}
