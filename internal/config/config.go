package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/eventcam/internal/device"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/eventcam.defaults.json"

// Defaults for fields left out of the configuration file.
const (
	DefaultWindowEvents  = 100000
	DefaultListen        = "localhost:8090"
	DefaultStatsInterval = time.Minute
)

// Config is the acquisition daemon configuration. Every field is optional;
// the Get* methods supply defaults for missing ones. Command line flags
// override values read from the file.
type Config struct {
	// Device selection
	Camera        *string `json:"camera,omitempty"`
	BusID         *int    `json:"bus_id,omitempty"`
	DeviceAddress *int    `json:"device_address,omitempty"`

	// Host-side packet settings
	MaxPacketSize *int `json:"max_packet_size,omitempty"`
	BufferSize    *int `json:"buffer_size,omitempty"`

	// Serial cameras
	SerialPort     *string `json:"serial_port,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`

	// Recorded input replaces the camera
	ReplayPath  *string  `json:"replay_path,omitempty"`
	ReplaySpeed *float64 `json:"replay_speed,omitempty"`
	UDPPort     *int     `json:"udp_port,omitempty"`

	// Pipeline
	WindowEvents *int    `json:"window_events,omitempty"`
	StorePath    *string `json:"store_path,omitempty"`

	// Service
	Listen        *string `json:"listen,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "1m"
}

// Empty returns a Config with every field unset.
func Empty() *Config { return &Config{} }

// Load reads a Config from a JSON file. The path must end in .json and the
// file must be at most 1 MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.Camera != nil {
		if _, err := device.ParseCameraType(*c.Camera); err != nil {
			return err
		}
	}
	if c.BusID != nil && (*c.BusID < 0 || *c.BusID > 0xFFFF) {
		return fmt.Errorf("bus_id must be between 0 and 65535, got %d", *c.BusID)
	}
	if c.DeviceAddress != nil && (*c.DeviceAddress < 0 || *c.DeviceAddress > 0xFF) {
		return fmt.Errorf("device_address must be between 0 and 255, got %d", *c.DeviceAddress)
	}
	if c.MaxPacketSize != nil && *c.MaxPacketSize <= 0 {
		return fmt.Errorf("max_packet_size must be positive, got %d", *c.MaxPacketSize)
	}
	if c.BufferSize != nil && *c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", *c.BufferSize)
	}
	if c.SerialBaudRate != nil && *c.SerialBaudRate <= 0 {
		return fmt.Errorf("serial_baud_rate must be positive, got %d", *c.SerialBaudRate)
	}
	if c.ReplaySpeed != nil && *c.ReplaySpeed < 0 {
		return fmt.Errorf("replay_speed must be non-negative, got %f", *c.ReplaySpeed)
	}
	if c.UDPPort != nil && (*c.UDPPort < 0 || *c.UDPPort > 0xFFFF) {
		return fmt.Errorf("udp_port must be between 0 and 65535, got %d", *c.UDPPort)
	}
	if c.WindowEvents != nil && *c.WindowEvents <= 0 {
		return fmt.Errorf("window_events must be positive, got %d", *c.WindowEvents)
	}
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}
	return nil
}

// GetCamera returns the camera family, "dvx" by default.
func (c *Config) GetCamera() string {
	if c.Camera == nil {
		return string(device.DVXplorer)
	}
	return *c.Camera
}

// GetBusID returns the USB bus id, 0 (any) by default.
func (c *Config) GetBusID() uint16 {
	if c.BusID == nil {
		return 0
	}
	return uint16(*c.BusID)
}

// GetDeviceAddress returns the USB device address, 0 (any) by default.
func (c *Config) GetDeviceAddress() uint8 {
	if c.DeviceAddress == nil {
		return 0
	}
	return uint8(*c.DeviceAddress)
}

// GetHostConfig returns the host-side packet settings.
func (c *Config) GetHostConfig() device.HostConfig {
	h := device.DefaultHostConfig()
	if c.MaxPacketSize != nil {
		h.MaxPacketSize = uint32(*c.MaxPacketSize)
	}
	if c.BufferSize != nil {
		h.BufferSize = uint32(*c.BufferSize)
	}
	return h
}

// GetSerialPort returns the serial device path, empty for auto-detection.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaudRate returns the serial baud rate, zero for the driver
// default.
func (c *Config) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 0
	}
	return *c.SerialBaudRate
}

// GetReplayPath returns the recording to replay, empty for live capture.
func (c *Config) GetReplayPath() string {
	if c.ReplayPath == nil {
		return ""
	}
	return *c.ReplayPath
}

// GetReplaySpeed returns the replay pacing factor, 0 (unpaced) by default.
func (c *Config) GetReplaySpeed() float64 {
	if c.ReplaySpeed == nil {
		return 0
	}
	return *c.ReplaySpeed
}

// GetUDPPort returns the capture port filter, 0 (any) by default.
func (c *Config) GetUDPPort() int {
	if c.UDPPort == nil {
		return 0
	}
	return *c.UDPPort
}

// GetWindowEvents returns the number of events per encoded batch.
func (c *Config) GetWindowEvents() int {
	if c.WindowEvents == nil {
		return DefaultWindowEvents
	}
	return *c.WindowEvents
}

// GetStorePath returns the batch database path, empty to disable storage.
func (c *Config) GetStorePath() string {
	if c.StorePath == nil {
		return ""
	}
	return *c.StorePath
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return DefaultListen
	}
	return *c.Listen
}

// GetStatsInterval returns the period of the statistics log line. Zero
// disables it.
func (c *Config) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return DefaultStatsInterval
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return DefaultStatsInterval
	}
	return d
}
