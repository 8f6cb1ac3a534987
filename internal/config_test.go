package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if !cfg.Import.AllowUpdate {
		t.Error("updates should be allowed by default")
	}
}

func TestCollectionConfig_MediaDefaults(t *testing.T) {
	cfg := CollectionConfig{Path: "/data/user/collection.anki2"}
	if got := cfg.MediaDirPath(); got != "/data/user/collection.media" {
		t.Errorf("media dir = %q", got)
	}
	if got := cfg.MediaDBPath(); got != "/data/user/collection.media.db" {
		t.Errorf("media db = %q", got)
	}

	cfg.MediaDir = "/srv/media"
	if got := cfg.MediaDBPath(); got != "/srv/media.db" {
		t.Errorf("media db with explicit dir = %q", got)
	}
}

func TestCollectionConfig_PathRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Collection.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing collection path should fail")
	}
}

func TestImportConfig_BatchSizeMin(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Import.BatchSize = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative batch size should fail")
	}
}

func TestInboxConfig_PathRequiredWhenEnabled(t *testing.T) {
	cfg := InboxConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled inbox without path should fail")
	}
	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled inbox needs no path: %v", err)
	}
}
