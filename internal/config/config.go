package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	// FileName is the service configuration file inside the config directory.
	FileName = "syncthing.conf"
	// HomeEnvironmentVariable overrides the configuration directory.
	HomeEnvironmentVariable = "SYNCPAIR_HOME"

	sectionSyncthing = "Syncthing"
	sectionScheduler = "Scheduler"
	sectionEngine    = "Engine"
)

// Syncthing holds the peer and role settings.
type Syncthing struct {
	// IP is the authority's sync address, used by subordinates to bootstrap
	// their connection.
	IP string `ini:"IP"`
	// Event is the persisted event cursor.
	Event    uint64 `ini:"Event"`
	Name     string `ini:"Name"`
	IsServer bool   `ini:"IsServer"`
	// ConfigXML locates the peer's own configuration.
	ConfigXML     string `ini:"ConfigXML"`
	ListenAddress string `ini:"ListenAddress"`
	UpdatePath    string `ini:"UpdatePath"`
	LogDir        string `ini:"LogDir"`
	LogLevel      string `ini:"LogLevel"`
}

// Scheduler tunes the outbound call queue.
type Scheduler struct {
	Capacity   int           `ini:"Capacity"`
	MaxRetries int           `ini:"MaxRetries"`
	Timeout    time.Duration `ini:"Timeout"`
	Tick       time.Duration `ini:"Tick"`
}

// Engine enables and paces the periodic activities.
type Engine struct {
	Liveness         bool          `ini:"Liveness"`
	LivenessInterval time.Duration `ini:"LivenessInterval"`
	Health           bool          `ini:"Health"`
	HealthInterval   time.Duration `ini:"HealthInterval"`
	Events           bool          `ini:"Events"`
	EventsInterval   time.Duration `ini:"EventsInterval"`
	Snapshots        string        `ini:"Snapshots"`
	// Advertise announces an authority on the local network over mDNS.
	Advertise bool `ini:"Advertise"`
	// Feed is the loopback address of the observation feed. Empty disables
	// it.
	Feed string `ini:"Feed"`
}

// DefaultConfig holds the settings written to a fresh configuration file.
var DefaultConfig = Config{
	Syncthing: Syncthing{
		IP:         "192.168.1.101:22000",
		Name:       "Wrapper",
		ConfigXML:  "~/.local/state/syncthing/config.xml",
		UpdatePath: "/work/update",
		LogDir:     "/work/log/",
		LogLevel:   "info",
	},
	Scheduler: Scheduler{
		Capacity:   20,
		MaxRetries: 1,
		Timeout:    time.Second,
		Tick:       200 * time.Millisecond,
	},
	Engine: Engine{
		Liveness:         true,
		LivenessInterval: 10 * time.Second,
		Health:           true,
		HealthInterval:   10 * time.Second,
		Events:           true,
		EventsInterval:   10 * time.Second,
		Snapshots:        "snapshots.db",
		Advertise:        true,
	},
}

// Config is the service configuration backed by an INI file. Keys it does
// not know about are preserved when it is saved.
type Config struct {
	Syncthing Syncthing
	Scheduler Scheduler
	Engine    Engine

	mu   sync.Mutex
	path string
	file *ini.File
}

// GetConfigDir returns the configuration directory, creating it if needed.
func GetConfigDir() (string, error) {
	configDir := os.Getenv(HomeEnvironmentVariable)
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "unable to compute home directory")
		}
		configDir = filepath.Join(home, ".syncpair")
	}
	return configDir, os.MkdirAll(configDir, 0755)
}

// DefaultPath returns the path of the service configuration file.
func DefaultPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, FileName), nil
}

// LoadConfig loads the configuration from the default location.
func LoadConfig() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads the configuration at path, creating it with defaults if it does
// not exist. Missing keys take their default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CreateDefaultConfig(path)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}

	config := &Config{
		Syncthing: DefaultConfig.Syncthing,
		Scheduler: DefaultConfig.Scheduler,
		Engine:    DefaultConfig.Engine,
		path:      path,
		file:      file,
	}
	if err := file.Section(sectionSyncthing).StrictMapTo(&config.Syncthing); err != nil {
		return nil, errors.Wrap(err, "unable to read [Syncthing] section")
	}
	if err := file.Section(sectionScheduler).StrictMapTo(&config.Scheduler); err != nil {
		return nil, errors.Wrap(err, "unable to read [Scheduler] section")
	}
	if err := file.Section(sectionEngine).StrictMapTo(&config.Engine); err != nil {
		return nil, errors.Wrap(err, "unable to read [Engine] section")
	}
	return config, nil
}

// CreateDefaultConfig writes a configuration with default values to path.
func CreateDefaultConfig(path string) (*Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create configuration directory")
	}

	config := &Config{
		Syncthing: DefaultConfig.Syncthing,
		Scheduler: DefaultConfig.Scheduler,
		Engine:    DefaultConfig.Engine,
		path:      path,
		file:      ini.Empty(),
	}
	if err := config.reflect(); err != nil {
		return nil, err
	}
	if err := config.save(); err != nil {
		return nil, err
	}
	return config, nil
}

// Path returns the file backing the configuration.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) reflect() error {
	if err := c.file.Section(sectionSyncthing).ReflectFrom(&c.Syncthing); err != nil {
		return errors.Wrap(err, "unable to encode [Syncthing] section")
	}
	if err := c.file.Section(sectionScheduler).ReflectFrom(&c.Scheduler); err != nil {
		return errors.Wrap(err, "unable to encode [Scheduler] section")
	}
	if err := c.file.Section(sectionEngine).ReflectFrom(&c.Engine); err != nil {
		return errors.Wrap(err, "unable to encode [Engine] section")
	}

	// Durations are reflected as nanosecond counts. Rewrite them in the
	// form people type.
	durations := map[string]map[string]time.Duration{
		sectionScheduler: {
			"Timeout": c.Scheduler.Timeout,
			"Tick":    c.Scheduler.Tick,
		},
		sectionEngine: {
			"LivenessInterval": c.Engine.LivenessInterval,
			"HealthInterval":   c.Engine.HealthInterval,
			"EventsInterval":   c.Engine.EventsInterval,
		},
	}
	for section, keys := range durations {
		for key, value := range keys {
			c.file.Section(section).Key(key).SetValue(value.String())
		}
	}
	return nil
}

// save writes the file through a temporary sibling so readers never observe
// a partial file.
func (c *Config) save() error {
	temporary := c.path + ".tmp"
	if err := c.file.SaveTo(temporary); err != nil {
		return errors.Wrap(err, "unable to write configuration")
	}
	if err := os.Rename(temporary, c.path); err != nil {
		os.Remove(temporary)
		return errors.Wrap(err, "unable to replace configuration")
	}
	return nil
}

func (c *Config) setKey(section, key, value string) error {
	if c.file == nil {
		c.file = ini.Empty()
	}
	c.file.Section(section).Key(key).SetValue(value)
	if c.path == "" {
		return nil
	}
	return c.save()
}

// LastEvent returns the persisted event cursor.
func (c *Config) LastEvent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Syncthing.Event
}

// SetLastEvent persists the event cursor.
func (c *Config) SetLastEvent(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Syncthing.Event = id
	return c.setKey(sectionSyncthing, "Event", strconv.FormatUint(id, 10))
}

// DisplayName returns the local device display name.
func (c *Config) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Syncthing.Name
}

// SetName persists the local device display name.
func (c *Config) SetName(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Syncthing.Name = name
	return c.setKey(sectionSyncthing, "Name", name)
}

// PeerAddress returns the authority's sync address.
func (c *Config) PeerAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Syncthing.IP
}

// SetPeerAddress persists the authority's sync address.
func (c *Config) SetPeerAddress(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Syncthing.IP = address
	return c.setKey(sectionSyncthing, "IP", address)
}

// SetRole persists the role flag. It takes effect on the next start.
func (c *Config) SetRole(isServer bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Syncthing.IsServer = isServer
	return c.setKey(sectionSyncthing, "IsServer", strconv.FormatBool(isServer))
}

// Settings is a copy of every section, taken at one point in time.
type Settings struct {
	Syncthing Syncthing
	Scheduler Scheduler
	Engine    Engine
}

// Settings returns a consistent copy of the current sections. Code that runs
// alongside Reload reads the configuration through it rather than through
// the exported fields.
func (c *Config) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Settings{
		Syncthing: c.Syncthing,
		Scheduler: c.Scheduler,
		Engine:    c.Engine,
	}
}

// SnapshotsPath resolves the diagnostics database location. Relative paths
// are taken from the configuration file's directory.
func (c *Config) SnapshotsPath() string {
	c.mu.Lock()
	snapshots := c.Engine.Snapshots
	c.mu.Unlock()
	if snapshots == "" || filepath.IsAbs(snapshots) || c.path == "" {
		return snapshots
	}
	return filepath.Join(filepath.Dir(c.path), snapshots)
}

// Reload re-reads the file, picking up edits made by an operator. The event
// cursor keeps the larger of the stored and in-memory values.
func (c *Config) Reload() error {
	fresh, err := Load(c.Path())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	event := c.Syncthing.Event
	c.Syncthing = fresh.Syncthing
	c.Scheduler = fresh.Scheduler
	c.Engine = fresh.Engine
	c.file = fresh.file
	if event > c.Syncthing.Event {
		c.Syncthing.Event = event
		c.file.Section(sectionSyncthing).Key("Event").SetValue(strconv.FormatUint(event, 10))
	}
	return nil
}
