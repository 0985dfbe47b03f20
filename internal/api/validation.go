package api

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/vigil-nvr/vigil/internal/config"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// CameraValidator validates camera configuration
type CameraValidator struct {
	errors ValidationErrors
}

// NewCameraValidator creates a new camera validator
func NewCameraValidator() *CameraValidator {
	return &CameraValidator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates a camera configuration
func (v *CameraValidator) Validate(cfg config.CameraConfig) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	v.validateID(cfg.ID)
	v.validateName(cfg.Name)
	v.validateStreamURL(cfg.Stream.URL)
	v.validateTransport(cfg.Stream.Transport)
	v.validatePipeline(cfg.Pipeline)

	return v.errors
}

// ValidateUpdate validates a camera update (allows partial updates)
func (v *CameraValidator) ValidateUpdate(cfg config.CameraConfig) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if cfg.Name != "" {
		v.validateName(cfg.Name)
	}
	if cfg.Stream.URL != "" {
		v.validateStreamURL(cfg.Stream.URL)
	}
	if cfg.Stream.Transport != "" {
		v.validateTransport(cfg.Stream.Transport)
	}
	v.validatePipeline(cfg.Pipeline)

	return v.errors
}

func (v *CameraValidator) validateID(id string) {
	if err := ValidateCameraID(id); err != nil {
		v.errors = append(v.errors, ValidationError{Field: "id", Message: err.Error()})
	}
}

func (v *CameraValidator) validateName(name string) {
	if name == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "camera name is required",
		})
		return
	}

	if len(name) < 2 {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "camera name must be at least 2 characters",
		})
	}

	if len(name) > 100 {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "camera name must be at most 100 characters",
		})
	}
}

func (v *CameraValidator) validateStreamURL(streamURL string) {
	if streamURL == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   "stream.url",
			Message: "stream URL is required",
		})
		return
	}

	u, err := url.Parse(streamURL)
	if err != nil {
		v.errors = append(v.errors, ValidationError{
			Field:   "stream.url",
			Message: "invalid URL format",
		})
		return
	}

	validSchemes := map[string]bool{"rtsp": true, "rtsps": true}
	if !validSchemes[strings.ToLower(u.Scheme)] {
		v.errors = append(v.errors, ValidationError{
			Field:   "stream.url",
			Message: fmt.Sprintf("unsupported stream protocol %q, expected rtsp or rtsps", u.Scheme),
		})
	}

	if u.Host == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   "stream.url",
			Message: "stream URL must include a host",
		})
	}
}

func (v *CameraValidator) validateTransport(transport string) {
	switch strings.ToLower(transport) {
	case "", "tcp", "udp":
		return
	default:
		v.errors = append(v.errors, ValidationError{
			Field:   "stream.transport",
			Message: "transport must be tcp or udp",
		})
	}
}

func (v *CameraValidator) validatePipeline(p config.PipelineConfig) {
	if p.MaxFrameSize != nil && *p.MaxFrameSize <= 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   "pipeline.max_frame_size",
			Message: "max_frame_size must be positive",
		})
	}
	if p.MP4StorageType != nil {
		switch *p.MP4StorageType {
		case "disabled", "filesystem", "database":
		default:
			v.errors = append(v.errors, ValidationError{
				Field:   "pipeline.mp4_storage_type",
				Message: "mp4_storage_type must be one of disabled, filesystem, database",
			})
		}
	}
	if p.HLSSegmentSeconds != nil && *p.HLSSegmentSeconds <= 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   "pipeline.hls_segment_seconds",
			Message: "hls_segment_seconds must be positive",
		})
	}
}

// ValidateCameraID validates a camera ID format
func ValidateCameraID(id string) error {
	if id == "" {
		return fmt.Errorf("camera ID is required")
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, id)
	if !matched {
		return fmt.Errorf("camera ID must contain only letters, numbers, underscores, and hyphens")
	}

	if len(id) > 50 {
		return fmt.Errorf("camera ID must be at most 50 characters")
	}

	return nil
}
