package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration loaded from the environment
type Config struct {
	Broker    string
	Port      int
	Username  string
	Password  string
	ClientID  string
	Topics    []string
	Windows   []time.Duration
	Prefix    string
	Retention time.Duration
	Debug     bool
}

// topicsFile is the YAML layout accepted by MODEWATCH_TOPICS_FILE
type topicsFile struct {
	Topics  []string `yaml:"topics"`
	Windows []string `yaml:"windows"`
}

var defaultWindows = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

// LoadConfig reads configuration using getenv (os.Getenv outside of tests)
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		Broker:   getenv("MQTT_BROKER"),
		Username: getenv("MQTT_USERNAME"),
		Password: getenv("MQTT_PASSWORD"),
		ClientID: getenv("MQTT_CLIENT_ID"),
		Prefix:   getenv("MODEWATCH_PREFIX"),
		Debug:    getenv("MODEWATCH_DEBUG") == "1",
		Port:     1883,
	}

	if cfg.Username == "" || cfg.Password == "" {
		return Config{}, fmt.Errorf("MQTT_USERNAME and MQTT_PASSWORD must be set")
	}
	if cfg.Broker == "" {
		cfg.Broker = "homeassistant.lan"
	}
	if port := getenv("MQTT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Config{}, fmt.Errorf("invalid MQTT_PORT %q", port)
		}
		cfg.Port = p
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "modewatch-" + uuid.New().String()[:8]
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "modewatch"
	}

	var windowSpecs []string
	if path := getenv("MODEWATCH_TOPICS_FILE"); path != "" {
		file, err := readTopicsFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Topics = append(cfg.Topics, file.Topics...)
		windowSpecs = file.Windows
	}
	cfg.Topics = append(cfg.Topics, splitList(getenv("MODEWATCH_TOPICS"))...)
	if env := splitList(getenv("MODEWATCH_WINDOWS")); len(env) > 0 {
		windowSpecs = env
	}

	slices.Sort(cfg.Topics)
	cfg.Topics = slices.Compact(cfg.Topics)
	if len(cfg.Topics) == 0 {
		return Config{}, fmt.Errorf("no topics configured (set MODEWATCH_TOPICS or MODEWATCH_TOPICS_FILE)")
	}
	if err := validateTopics(cfg.Topics); err != nil {
		return Config{}, err
	}

	windows, err := parseWindows(windowSpecs)
	if err != nil {
		return Config{}, err
	}
	cfg.Windows = windows

	largest := slices.Max(cfg.Windows)
	cfg.Retention = largest
	if r := getenv("MODEWATCH_RETENTION"); r != "" {
		d, err := time.ParseDuration(r)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MODEWATCH_RETENTION: %w", err)
		}
		if d < largest {
			return Config{}, fmt.Errorf("MODEWATCH_RETENTION %v is shorter than largest window %v", d, largest)
		}
		cfg.Retention = d
	}

	return cfg, nil
}

// BrokerURL returns the paho broker address
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// validateTopics rejects wildcards and topics that would share a published sensor name
func validateTopics(topics []string) error {
	owners := make(map[string]string, len(topics))
	for _, topic := range topics {
		if strings.ContainsAny(topic, "+#") {
			return fmt.Errorf("topic %q: wildcards are not supported, list each topic", topic)
		}
		name := sensorName(topic)
		if name == "" {
			return fmt.Errorf("topic %q has no sensor name", topic)
		}
		if other, exists := owners[name]; exists {
			return fmt.Errorf("topics %q and %q both publish as sensor %q", other, topic, name)
		}
		owners[name] = topic
	}
	return nil
}

func readTopicsFile(path string) (topicsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return topicsFile{}, fmt.Errorf("reading topics file: %w", err)
	}
	var file topicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return topicsFile{}, fmt.Errorf("invalid topics file %s: %w", path, err)
	}
	return file, nil
}

// parseWindows parses Go durations, sorted ascending and deduped
func parseWindows(specs []string) ([]time.Duration, error) {
	if len(specs) == 0 {
		return slices.Clone(defaultWindows), nil
	}

	windows := make([]time.Duration, 0, len(specs))
	for _, s := range specs {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid window %q: %w", s, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("window %q must be positive", s)
		}
		windows = append(windows, d)
	}
	slices.Sort(windows)
	return slices.Compact(windows), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
