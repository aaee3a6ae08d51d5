package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Readers  []ReaderConfig `json:"readers" yaml:"readers"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Filter   FilterConfig   `json:"filter" yaml:"filter"`
	Sweep    SweepConfig    `json:"sweep" yaml:"sweep"`
	Emit     EmitConfig     `json:"emit" yaml:"emit"`
	State    StateConfig    `json:"state" yaml:"state"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	API      APIConfig      `json:"api" yaml:"api"`
	Updates  UpdatesConfig  `json:"updates" yaml:"updates"`
}

// ReaderConfig binds one fixed reader endpoint to the location its
// antennas cover. The location binding is implicit in the wire protocol,
// so it has to be configured here.
type ReaderConfig struct {
	ID         string `json:"id" yaml:"id"`
	Addr       string `json:"addr" yaml:"addr"`
	LocationID string `json:"location_id" yaml:"location_id"`
}

type IngestConfig struct {
	Partitions        int           `json:"partitions" yaml:"partitions"`
	PartitionDepth    int           `json:"partition_depth" yaml:"partition_depth"`
	AdapterBuffer     int           `json:"adapter_buffer" yaml:"adapter_buffer"`
	ReconnectMin      time.Duration `json:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax      time.Duration `json:"reconnect_max" yaml:"reconnect_max"`
	HeartbeatDeadline time.Duration `json:"heartbeat_deadline" yaml:"heartbeat_deadline"`
	MinSignal         int           `json:"min_signal" yaml:"min_signal"`
	MaxSignal         int           `json:"max_signal" yaml:"max_signal"`
}

type FilterConfig struct {
	DedupWindow     time.Duration `json:"dedup_window" yaml:"dedup_window"`
	DailyInterval   time.Duration `json:"daily_interval" yaml:"daily_interval"`
	ClockResolution time.Duration `json:"clock_resolution" yaml:"clock_resolution"`
}

type SweepConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

type EmitConfig struct {
	QueueDepth int           `json:"queue_depth" yaml:"queue_depth"`
	RetryMin   time.Duration `json:"retry_min" yaml:"retry_min"`
	RetryMax   time.Duration `json:"retry_max" yaml:"retry_max"`
	Kafka      KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type StateConfig struct {
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type UpdatesConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			Partitions:        8,
			PartitionDepth:    1024,
			AdapterBuffer:     256,
			ReconnectMin:      1 * time.Second,
			ReconnectMax:      30 * time.Second,
			HeartbeatDeadline: 15 * time.Second,
			MinSignal:         -100,
			MaxSignal:         0,
		},
		Filter: FilterConfig{
			DedupWindow:     1 * time.Second,
			DailyInterval:   24 * time.Hour,
			ClockResolution: 250 * time.Millisecond,
		},
		Sweep: SweepConfig{Enabled: true, Interval: 1 * time.Hour},
		Emit: EmitConfig{
			QueueDepth: 4096,
			RetryMin:   200 * time.Millisecond,
			RetryMax:   10 * time.Second,
			Kafka:      KafkaConfig{Enabled: false, Topic: "location-updates"},
		},
		State:   StateConfig{CacheSize: 100000},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:tagstream.db?_pragma=busy_timeout(5000)"},
		API:     APIConfig{Enabled: true, Addr: ":8080"},
		Updates: UpdatesConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	cfg := DefaultConfig()
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Ingest.Partitions <= 0 {
		cfg.Ingest.Partitions = def.Ingest.Partitions
	}
	if cfg.Ingest.PartitionDepth <= 0 {
		cfg.Ingest.PartitionDepth = def.Ingest.PartitionDepth
	}
	if cfg.Ingest.AdapterBuffer <= 0 {
		cfg.Ingest.AdapterBuffer = def.Ingest.AdapterBuffer
	}
	if cfg.Ingest.ReconnectMin <= 0 {
		cfg.Ingest.ReconnectMin = def.Ingest.ReconnectMin
	}
	if cfg.Ingest.ReconnectMax <= 0 {
		cfg.Ingest.ReconnectMax = def.Ingest.ReconnectMax
	}
	if cfg.Ingest.HeartbeatDeadline <= 0 {
		cfg.Ingest.HeartbeatDeadline = def.Ingest.HeartbeatDeadline
	}
	if cfg.Ingest.MinSignal == 0 && cfg.Ingest.MaxSignal == 0 {
		cfg.Ingest.MinSignal = def.Ingest.MinSignal
		cfg.Ingest.MaxSignal = def.Ingest.MaxSignal
	}
	if cfg.Filter.DedupWindow <= 0 {
		cfg.Filter.DedupWindow = def.Filter.DedupWindow
	}
	if cfg.Filter.DailyInterval <= 0 {
		cfg.Filter.DailyInterval = def.Filter.DailyInterval
	}
	if cfg.Filter.ClockResolution <= 0 {
		cfg.Filter.ClockResolution = def.Filter.ClockResolution
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = def.Sweep.Interval
	}
	if cfg.Emit.QueueDepth <= 0 {
		cfg.Emit.QueueDepth = def.Emit.QueueDepth
	}
	if cfg.Emit.RetryMin <= 0 {
		cfg.Emit.RetryMin = def.Emit.RetryMin
	}
	if cfg.Emit.RetryMax <= 0 {
		cfg.Emit.RetryMax = def.Emit.RetryMax
	}
	if cfg.State.CacheSize <= 0 {
		cfg.State.CacheSize = def.State.CacheSize
	}
	if cfg.Updates.StoreLimit <= 0 {
		cfg.Updates.StoreLimit = def.Updates.StoreLimit
	}
}

func Validate(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Readers))
	for i, r := range cfg.Readers {
		if r.ID == "" {
			return fmt.Errorf("readers[%d].id is required", i)
		}
		if r.Addr == "" {
			return fmt.Errorf("readers[%d].addr is required", i)
		}
		if r.LocationID == "" {
			return fmt.Errorf("readers[%d].location_id is required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate reader id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	if cfg.Ingest.ReconnectMin > cfg.Ingest.ReconnectMax {
		return errors.New("ingest.reconnect_min must not exceed ingest.reconnect_max")
	}
	if cfg.Ingest.MinSignal >= cfg.Ingest.MaxSignal {
		return errors.New("ingest.min_signal must be below ingest.max_signal")
	}
	if cfg.Filter.ClockResolution >= cfg.Filter.DedupWindow {
		return errors.New("filter.clock_resolution must be below filter.dedup_window")
	}
	if cfg.Emit.Kafka.Enabled {
		if len(cfg.Emit.Kafka.Brokers) == 0 || cfg.Emit.Kafka.Topic == "" {
			return errors.New("emit.kafka requires brokers and topic")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a fixed config with no backing file. Used by tests
// and by callers that assemble configuration programmatically.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
