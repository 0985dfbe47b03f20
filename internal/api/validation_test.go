package api

import (
	"strings"
	"testing"

	"github.com/vigil-nvr/vigil/internal/config"
)

func TestCameraValidator_ValidateValidConfig(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "Front Door",
		Stream: config.StreamConfig{
			URL:       "rtsp://192.168.1.100:554/stream",
			Transport: "tcp",
		},
	}

	errors := validator.Validate(cfg)
	if errors.HasErrors() {
		t.Errorf("Valid config should not have errors, got: %v", errors)
	}
}

func TestCameraValidator_ValidateMissingName(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "",
		Stream: config.StreamConfig{
			URL: "rtsp://192.168.1.100:554/stream",
		},
	}

	errors := validator.Validate(cfg)
	found := false
	for _, err := range errors {
		if err.Field == "name" {
			found = true
		}
	}
	if !found {
		t.Error("Expected error for 'name' field")
	}
}

func TestCameraValidator_ValidateShortName(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "A",
		Stream: config.StreamConfig{
			URL: "rtsp://192.168.1.100:554/stream",
		},
	}

	errors := validator.Validate(cfg)
	if !errors.HasErrors() {
		t.Error("Config with name too short should have errors")
	}
}

func TestCameraValidator_ValidateMissingURL(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "Front Door",
		Stream: config.StreamConfig{
			URL: "",
		},
	}

	errors := validator.Validate(cfg)
	found := false
	for _, err := range errors {
		if err.Field == "stream.url" {
			found = true
		}
	}
	if !found {
		t.Error("Expected error for 'stream.url' field")
	}
}

func TestCameraValidator_ValidateInvalidURL(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "Front Door",
		Stream: config.StreamConfig{
			URL: "://not-valid",
		},
	}

	errors := validator.Validate(cfg)
	if !errors.HasErrors() {
		t.Error("Config with invalid URL should have errors")
	}
}

func TestCameraValidator_ValidateUnsupportedProtocol(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "Front Door",
		Stream: config.StreamConfig{
			URL: "ftp://192.168.1.100/stream",
		},
	}

	errors := validator.Validate(cfg)
	if !errors.HasErrors() {
		t.Error("Config with unsupported protocol should have errors")
	}
}

func TestCameraValidator_ValidateSupportedProtocols(t *testing.T) {
	for _, proto := range []string{"rtsp", "rtsps"} {
		validator := NewCameraValidator()
		cfg := config.CameraConfig{
			ID:   "cam1",
			Name: "Front Door",
			Stream: config.StreamConfig{
				URL: proto + "://192.168.1.100/stream",
			},
		}

		errors := validator.Validate(cfg)
		for _, err := range errors {
			if err.Field == "stream.url" {
				t.Errorf("Protocol %s should be supported, got error: %s", proto, err.Message)
			}
		}
	}
}

func TestCameraValidator_ValidateTransport(t *testing.T) {
	tests := []struct {
		transport string
		shouldErr bool
	}{
		{"", false},
		{"tcp", false},
		{"udp", false},
		{"TCP", false},
		{"sctp", true},
	}

	for _, tc := range tests {
		validator := NewCameraValidator()
		cfg := config.CameraConfig{
			ID:   "cam1",
			Name: "Front Door",
			Stream: config.StreamConfig{
				URL:       "rtsp://192.168.1.100/stream",
				Transport: tc.transport,
			},
		}

		errors := validator.Validate(cfg)
		hasErr := false
		for _, err := range errors {
			if err.Field == "stream.transport" {
				hasErr = true
			}
		}
		if tc.shouldErr != hasErr {
			t.Errorf("transport %q: expected error=%v, got=%v", tc.transport, tc.shouldErr, hasErr)
		}
	}
}

func TestCameraValidator_ValidatePipelineMP4StorageType(t *testing.T) {
	bad := "tape"
	good := "database"

	validator := NewCameraValidator()
	cfg := config.CameraConfig{
		ID:   "cam1",
		Name: "Front Door",
		Stream: config.StreamConfig{
			URL: "rtsp://192.168.1.100/stream",
		},
		Pipeline: config.PipelineConfig{MP4StorageType: &bad},
	}
	if !validator.Validate(cfg).HasErrors() {
		t.Error("expected error for invalid mp4_storage_type")
	}

	validator = NewCameraValidator()
	cfg.Pipeline.MP4StorageType = &good
	if validator.Validate(cfg).HasErrors() {
		t.Error("did not expect error for valid mp4_storage_type")
	}
}

func TestValidateCameraID(t *testing.T) {
	tests := []struct {
		id        string
		shouldErr bool
	}{
		{"cam1", false},
		{"front_door", false},
		{"cam-123", false},
		{"Camera_1", false},
		{"", true},
		{"cam with spaces", true},
		{"cam@special", true},
		{"cam/path", true},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true}, // 51 chars
	}

	for _, tc := range tests {
		err := ValidateCameraID(tc.id)
		if tc.shouldErr && err == nil {
			t.Errorf("ID '%s' should have error", tc.id)
		}
		if !tc.shouldErr && err != nil {
			t.Errorf("ID '%s' should not have error, got: %v", tc.id, err)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	errors := ValidationErrors{
		{Field: "name", Message: "is required"},
		{Field: "url", Message: "is invalid"},
	}

	if !errors.HasErrors() {
		t.Error("HasErrors should return true when there are errors")
	}

	errStr := errors.Error()
	if !strings.Contains(errStr, "name") {
		t.Error("Error string should contain 'name'")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError{Field: "test", Message: "is required"}
	if err.Error() != "test: is required" {
		t.Errorf("Expected 'test: is required', got '%s'", err.Error())
	}
}

func TestCameraValidator_ValidateUpdate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.CameraConfig
		wantField string
	}{
		{name: "empty update is valid", cfg: config.CameraConfig{}},
		{name: "valid name update", cfg: config.CameraConfig{Name: "Valid Name"}},
		{name: "short name update", cfg: config.CameraConfig{Name: "A"}, wantField: "name"},
		{
			name: "valid stream URL update",
			cfg:  config.CameraConfig{Stream: config.StreamConfig{URL: "rtsp://192.168.1.100/stream"}},
		},
		{
			name:      "bad transport update",
			cfg:       config.CameraConfig{Stream: config.StreamConfig{Transport: "sctp"}},
			wantField: "stream.transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := NewCameraValidator()
			errors := validator.ValidateUpdate(tt.cfg)

			if tt.wantField != "" {
				found := false
				for _, err := range errors {
					if err.Field == tt.wantField {
						found = true
					}
				}
				if !found {
					t.Errorf("Expected error for field '%s', got none", tt.wantField)
				}
			} else if errors.HasErrors() {
				t.Errorf("Expected no errors, got: %v", errors)
			}
		})
	}
}

func TestValidateLongName(t *testing.T) {
	validator := NewCameraValidator()
	longName := strings.Repeat("a", 101)

	cfg := config.CameraConfig{
		ID:     "cam1",
		Name:   longName,
		Stream: config.StreamConfig{URL: "rtsp://192.168.1.100/stream"},
	}

	errors := validator.Validate(cfg)
	found := false
	for _, err := range errors {
		if err.Field == "name" && strings.Contains(err.Message, "100") {
			found = true
		}
	}
	if !found {
		t.Error("Expected error for name too long")
	}
}

func TestValidateStreamURL_MissingHost(t *testing.T) {
	validator := NewCameraValidator()

	cfg := config.CameraConfig{
		ID:     "cam1",
		Name:   "Test Camera",
		Stream: config.StreamConfig{URL: "rtsp:///stream"},
	}

	errors := validator.Validate(cfg)
	found := false
	for _, err := range errors {
		if err.Field == "stream.url" && strings.Contains(err.Message, "host") {
			found = true
		}
	}
	if !found {
		t.Error("Expected error for missing host")
	}
}

func TestEmptyValidationErrors(t *testing.T) {
	errors := ValidationErrors{}
	if errors.HasErrors() {
		t.Error("Empty errors should not have errors")
	}
	if errors.Error() != "" {
		t.Error("Empty errors should have empty string")
	}
}
