// Package config provides configuration management for the NVR system.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main NVR configuration.
type Config struct {
	Version string         `yaml:"version"`
	System  SystemConfig   `yaml:"system"`
	Cameras []CameraConfig `yaml:"cameras"`
	Storage StorageConfig  `yaml:"storage"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Name        string        `yaml:"name"`
	Timezone    string        `yaml:"timezone"`
	StoragePath string        `yaml:"storage_path"`
	Logging     LoggingConfig `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// TelemetryConfig controls the optional NATS-backed throughput publisher.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port,omitempty"`
}

// CameraConfig holds configuration for a single camera, including the
// per-field pipeline overrides enumerated in the external interface surface.
// Any Pipeline field left unset (nil) takes the built-in default from
// defaultPipeline; there is no system-level pipeline section.
type CameraConfig struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name" json:"name"`
	Enabled  bool         `yaml:"enabled" json:"enabled"`
	Stream   StreamConfig `yaml:"stream" json:"stream"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
}

// StreamConfig holds camera stream connection settings.
type StreamConfig struct {
	URL       string `yaml:"url" json:"url"`
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"` // tcp or udp
	Username  string `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	ExtraArgs []string `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
}

// PipelineConfig is the enumerated, effect-only config surface from the
// external interfaces, set per camera. A per-camera pointer that is non-nil
// always wins over the built-in default; no config section sets these
// fields for all cameras at once.
type PipelineConfig struct {
	FrameStorageEnabled       *bool          `yaml:"frame_storage_enabled,omitempty" json:"frame_storage_enabled,omitempty"`
	FrameStorageRetention     *time.Duration `yaml:"frame_storage_retention,omitempty" json:"frame_storage_retention,omitempty"`
	MaxFrameSize              *int           `yaml:"max_frame_size,omitempty" json:"max_frame_size,omitempty"`
	SessionSegmentMinutes     *uint64        `yaml:"session_segment_minutes,omitempty" json:"session_segment_minutes,omitempty"`
	MP4StorageType            *string        `yaml:"mp4_storage_type,omitempty" json:"mp4_storage_type,omitempty"` // disabled, filesystem, database
	MP4StorageRetention       *time.Duration `yaml:"mp4_storage_retention,omitempty" json:"mp4_storage_retention,omitempty"`
	MP4SegmentMinutes         *uint64        `yaml:"mp4_segment_minutes,omitempty" json:"mp4_segment_minutes,omitempty"`
	HLSStorageEnabled         *bool          `yaml:"hls_storage_enabled,omitempty" json:"hls_storage_enabled,omitempty"`
	HLSStorageRetention       *time.Duration `yaml:"hls_storage_retention,omitempty" json:"hls_storage_retention,omitempty"`
	HLSSegmentSeconds         *uint64        `yaml:"hls_segment_seconds,omitempty" json:"hls_segment_seconds,omitempty"`
	PreRecordingEnabled       *bool          `yaml:"pre_recording_enabled,omitempty" json:"pre_recording_enabled,omitempty"`
	PreRecordingBufferMinutes *uint64        `yaml:"pre_recording_buffer_minutes,omitempty" json:"pre_recording_buffer_minutes,omitempty"`
	PreRecordingCleanupIntervalSeconds *uint64 `yaml:"pre_recording_cleanup_interval_seconds,omitempty" json:"pre_recording_cleanup_interval_seconds,omitempty"`
	CleanupIntervalHours      *uint64        `yaml:"cleanup_interval_hours,omitempty" json:"cleanup_interval_hours,omitempty"`
	ChannelBufferSize         *int           `yaml:"channel_buffer_size,omitempty" json:"channel_buffer_size,omitempty"`
	OutputFramerate           *uint32        `yaml:"output_framerate,omitempty" json:"output_framerate,omitempty"`
	AllowDuplicateFrames      *bool          `yaml:"allow_duplicate_frames,omitempty" json:"allow_duplicate_frames,omitempty"`
	DataTimeoutSecs           *int           `yaml:"data_timeout_secs,omitempty" json:"data_timeout_secs,omitempty"`
	ReconnectIntervalSecs     *int           `yaml:"reconnect_interval_secs,omitempty" json:"reconnect_interval_secs,omitempty"`
}

// StorageConfig holds storage-wide settings.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"` // root for per-camera .db files and filesystem-mode MP4
	ExportPath   string `yaml:"export_path"`
	MaxJobs      uint64 `yaml:"max_jobs"`
}

// ResolvedPipeline is a PipelineConfig with every field materialized,
// computed by merging a camera's overrides onto the global defaults.
type ResolvedPipeline struct {
	FrameStorageEnabled                bool
	FrameStorageRetention              time.Duration
	MaxFrameSize                       int
	SessionSegmentMinutes              uint64
	MP4StorageType                     string
	MP4StorageRetention                time.Duration
	MP4SegmentMinutes                  uint64
	HLSStorageEnabled                  bool
	HLSStorageRetention                time.Duration
	HLSSegmentSeconds                  uint64
	PreRecordingEnabled                bool
	PreRecordingBufferMinutes          uint64
	PreRecordingCleanupIntervalSeconds uint64
	CleanupIntervalHours               uint64
	ChannelBufferSize                  int
	OutputFramerate                    uint32
	AllowDuplicateFrames               bool
	DataTimeoutSecs                    int
	ReconnectIntervalSecs              int
}

func defaultPipeline() ResolvedPipeline {
	return ResolvedPipeline{
		FrameStorageEnabled:                true,
		FrameStorageRetention:              7 * 24 * time.Hour,
		MaxFrameSize:                       5 << 20,
		SessionSegmentMinutes:              0,
		MP4StorageType:                     "filesystem",
		MP4StorageRetention:                30 * 24 * time.Hour,
		MP4SegmentMinutes:                  5,
		HLSStorageEnabled:                  false,
		HLSStorageRetention:                24 * time.Hour,
		HLSSegmentSeconds:                  6,
		PreRecordingEnabled:                false,
		PreRecordingBufferMinutes:          1,
		PreRecordingCleanupIntervalSeconds: 10,
		CleanupIntervalHours:               6,
		ChannelBufferSize:                  64,
		OutputFramerate:                    0,
		AllowDuplicateFrames:               true,
		DataTimeoutSecs:                    60,
		ReconnectIntervalSecs:              5,
	}
}

// Pipeline resolves the effective pipeline config for this camera: the
// built-in defaults from defaultPipeline, with each non-nil per-camera field
// taking precedence. No system-level values are applied in between.
func (c *Config) Pipeline(cam CameraConfig) ResolvedPipeline {
	r := defaultPipeline()
	p := cam.Pipeline

	if p.FrameStorageEnabled != nil {
		r.FrameStorageEnabled = *p.FrameStorageEnabled
	}
	if p.FrameStorageRetention != nil {
		r.FrameStorageRetention = *p.FrameStorageRetention
	}
	if p.MaxFrameSize != nil {
		r.MaxFrameSize = *p.MaxFrameSize
	}
	if p.SessionSegmentMinutes != nil {
		r.SessionSegmentMinutes = *p.SessionSegmentMinutes
	}
	if p.MP4StorageType != nil {
		r.MP4StorageType = *p.MP4StorageType
	}
	if p.MP4StorageRetention != nil {
		r.MP4StorageRetention = *p.MP4StorageRetention
	}
	if p.MP4SegmentMinutes != nil {
		r.MP4SegmentMinutes = *p.MP4SegmentMinutes
	}
	if p.HLSStorageEnabled != nil {
		r.HLSStorageEnabled = *p.HLSStorageEnabled
	}
	if p.HLSStorageRetention != nil {
		r.HLSStorageRetention = *p.HLSStorageRetention
	}
	if p.HLSSegmentSeconds != nil {
		r.HLSSegmentSeconds = *p.HLSSegmentSeconds
	}
	if p.PreRecordingEnabled != nil {
		r.PreRecordingEnabled = *p.PreRecordingEnabled
	}
	if p.PreRecordingBufferMinutes != nil {
		r.PreRecordingBufferMinutes = *p.PreRecordingBufferMinutes
	}
	if p.PreRecordingCleanupIntervalSeconds != nil {
		r.PreRecordingCleanupIntervalSeconds = *p.PreRecordingCleanupIntervalSeconds
	}
	if p.CleanupIntervalHours != nil {
		r.CleanupIntervalHours = *p.CleanupIntervalHours
	}
	if p.ChannelBufferSize != nil {
		r.ChannelBufferSize = *p.ChannelBufferSize
	}
	if p.OutputFramerate != nil {
		r.OutputFramerate = *p.OutputFramerate
	}
	if p.AllowDuplicateFrames != nil {
		r.AllowDuplicateFrames = *p.AllowDuplicateFrames
	}
	if p.DataTimeoutSecs != nil {
		r.DataTimeoutSecs = *p.DataTimeoutSecs
	}
	if p.ReconnectIntervalSecs != nil {
		r.ReconnectIntervalSecs = *p.ReconnectIntervalSecs
	}

	return r
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.encKey = getEncryptionKey()

	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the config for values that would violate an invariant if
// applied. It returns a plain error describing the first violation (not an
// nvrerr kind); Load then returns no config, so nothing is partially applied.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera missing id")
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id: %s", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Stream.URL == "" {
			return fmt.Errorf("camera %s: stream url required", cam.ID)
		}
		if t := cam.Pipeline.MP4StorageType; t != nil {
			switch *t {
			case "disabled", "filesystem", "database":
			default:
				return fmt.Errorf("camera %s: invalid mp4_storage_type %q", cam.ID, *t)
			}
		}
	}
	return nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version: c.Version,
		System:  c.System,
		Cameras: c.Cameras,
		Storage: c.Storage,
		path:    c.path,
		encKey:  c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# NVR configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching the config file for changes and reloads on write,
// invoking every registered OnChange callback with the new config.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback invoked after every successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Cameras = newCfg.Cameras
	c.Storage = newCfg.Storage
	c.encKey = newCfg.encKey
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// GetCamera returns a camera by ID, or nil if not found.
func (c *Config) GetCamera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			cam := c.Cameras[i]
			return &cam
		}
	}
	return nil
}

// ListCameras returns a snapshot of all configured cameras.
func (c *Config) ListCameras() []CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CameraConfig, len(c.Cameras))
	copy(out, c.Cameras)
	return out
}

// UpsertCamera adds or updates a camera and persists the change.
func (c *Config) UpsertCamera(cam CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == cam.ID {
			c.Cameras[i] = cam
			return c.saveUnlocked()
		}
	}

	c.Cameras = append(c.Cameras, cam)
	return c.saveUnlocked()
}

// RemoveCamera removes a camera by ID and persists the change.
func (c *Config) RemoveCamera(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			c.Cameras = append(c.Cameras[:i], c.Cameras[i+1:]...)
			return c.saveUnlocked()
		}
	}

	return fmt.Errorf("camera not found: %s", id)
}

// SetPath sets the path used by Save/Watch.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path.
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.StoragePath == "" {
		c.System.StoragePath = "/data"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = c.System.StoragePath + "/recordings"
	}
	if c.Storage.ExportPath == "" {
		c.Storage.ExportPath = c.System.StoragePath + "/exports"
	}
	if c.Storage.MaxJobs == 0 {
		c.Storage.MaxJobs = 50
	}
	for i := range c.Cameras {
		if c.Cameras[i].Stream.Transport == "" {
			c.Cameras[i].Stream.Transport = "tcp"
		}
	}
}

func (c *Config) encryptSecrets() error {
	for i := range c.Cameras {
		if c.Cameras[i].Stream.Password != "" && !strings.HasPrefix(c.Cameras[i].Stream.Password, "encrypted:") {
			encrypted, err := encrypt(c.encKey, c.Cameras[i].Stream.Password)
			if err != nil {
				return err
			}
			c.Cameras[i].Stream.Password = "encrypted:" + encrypted
		}
	}
	return nil
}

func (c *Config) decryptSecrets() error {
	for i := range c.Cameras {
		if strings.HasPrefix(c.Cameras[i].Stream.Password, "encrypted:") {
			encrypted := strings.TrimPrefix(c.Cameras[i].Stream.Password, "encrypted:")
			decrypted, err := decrypt(c.encKey, encrypted)
			if err != nil {
				return err
			}
			c.Cameras[i].Stream.Password = decrypted
		}
	}
	return nil
}

func getEncryptionKey() []byte {
	keyStr := os.Getenv("NVR_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
	}

	// Must be exactly 32 bytes for AES-256.
	return []byte("nvr-default-key-change-in-prod!!")
}

func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
