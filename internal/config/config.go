// Package config loads the drivelog configuration file: the fleet of
// vehicles to reconcile, the telemetry broker, and declared places.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Drive declares one drive unit of a configured vehicle.
type Drive struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"` // "electric" or "combustion"
}

// Vehicle declares one vehicle to reconcile.
type Vehicle struct {
	VIN    string  `json:"vin"`
	Drives []Drive `json:"drives,omitempty"`
}

// Place declares a known place for the static resolver (home, work, a
// preferred gas station).
type Place struct {
	UID       string  `json:"uid,omitempty"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"` // "place", "gas_station", "charging_station"
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Config is the root configuration.
type Config struct {
	DBPath string `json:"db_path,omitempty"`
	Listen string `json:"listen,omitempty"`

	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883".
	// Empty disables the ingest layer (useful for replay tools).
	Broker string `json:"broker,omitempty"`

	// TopicPrefix overrides the default "drivelog" MQTT topic root.
	TopicPrefix string `json:"topic_prefix,omitempty"`

	Vehicles []Vehicle `json:"vehicles"`
	Places   []Place   `json:"places,omitempty"`
}

// Load reads and validates a Config from a JSON file. Fields omitted
// from the JSON keep their zero values; the command line supplies
// defaults for those.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cleanPath, err)
	}
	return &cfg, nil
}

// Validate checks the declared fleet and places for consistency.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, v := range c.Vehicles {
		if v.VIN == "" {
			return fmt.Errorf("vehicle %d: empty VIN", i)
		}
		if seen[v.VIN] {
			return fmt.Errorf("vehicle %d: duplicate VIN %s", i, v.VIN)
		}
		seen[v.VIN] = true

		indexes := make(map[int]bool)
		for j, d := range v.Drives {
			if d.Index < 0 {
				return fmt.Errorf("vehicle %s drive %d: negative index", v.VIN, j)
			}
			if indexes[d.Index] {
				return fmt.Errorf("vehicle %s drive %d: duplicate index %d", v.VIN, j, d.Index)
			}
			indexes[d.Index] = true
			if d.Kind != "electric" && d.Kind != "combustion" {
				return fmt.Errorf("vehicle %s drive %d: unknown kind %q", v.VIN, j, d.Kind)
			}
		}
	}
	for i, p := range c.Places {
		if p.Name == "" {
			return fmt.Errorf("place %d: empty name", i)
		}
		switch p.Kind {
		case "place", "gas_station", "charging_station":
		default:
			return fmt.Errorf("place %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}
