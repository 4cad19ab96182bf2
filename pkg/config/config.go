package config

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// Filter names understood by the plane-detection collaborator
const (
	FilterPlaneWithinPolygon = "plane-within-polygon"
)

// Config represents the operational scene configuration for a tracked device
type Config struct {
	Version        string          `yaml:"version" json:"version"`
	ConfigID       string          `yaml:"config_id" json:"config_id"`
	LastUpdated    string          `yaml:"lastUpdated" json:"lastUpdated"`
	DeviceID       string          `yaml:"device_id" json:"device_id"`
	Tracking       TrackingConfig  `yaml:"tracking" json:"tracking"`
	ObjectMappings []ObjectMapping `yaml:"object_mappings" json:"object_mappings"`
	Defaults       DefaultsConfig  `yaml:"defaults" json:"defaults"`
}

// TrackingConfig holds the geometric tuning of the ground tracker
type TrackingConfig struct {
	MaxFallbackDistanceM float64 `yaml:"max_fallback_distance_m" json:"max_fallback_distance_m"`
	PlaceForwardOffsetM  float64 `yaml:"place_forward_offset_m" json:"place_forward_offset_m"`
	PlaceDropOffsetM     float64 `yaml:"place_drop_offset_m" json:"place_drop_offset_m"`
	DetectionFilter      string  `yaml:"detection_filter" json:"detection_filter"`
}

// ObjectMapping describes one virtual object participating in a session
type ObjectMapping struct {
	ObjectID string                 `yaml:"object_id" json:"object_id"`
	Name     string                 `yaml:"name" json:"name"`
	ModelURI string                 `yaml:"model_uri" json:"model_uri"`
	Role     string                 `yaml:"role" json:"role"`
	Params   map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// DefaultsConfig holds default values for object mappings
type DefaultsConfig struct {
	Role            string `yaml:"role" json:"role"`
	DetectionFilter string `yaml:"detection_filter" json:"detection_filter"`
}

// LoadConfig loads the scene configuration from the specified file path
func LoadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses scene configuration from raw YAML bytes
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// GetObjectMappingsByRole returns object mappings filtered by role
func (c *Config) GetObjectMappingsByRole(role string) []ObjectMapping {
	var result []ObjectMapping

	for _, mapping := range c.ObjectMappings {
		// If mapping doesn't have a role, use the default
		mappingRole := mapping.Role
		if mappingRole == "" {
			mappingRole = c.Defaults.Role
		}

		if mappingRole == role {
			result = append(result, applyDefaults(mapping, c.Defaults))
		}
	}

	return result
}

// GetObjectMappingByID returns the object mapping for a specific object ID
func (c *Config) GetObjectMappingByID(objectID string) (ObjectMapping, bool) {
	for _, mapping := range c.ObjectMappings {
		if mapping.ObjectID == objectID {
			return applyDefaults(mapping, c.Defaults), true
		}
	}

	return ObjectMapping{}, false
}

// DetectionFilter returns the configured detection filter, falling back to
// the defaults section and finally the plane-within-polygon filter.
func (c *Config) DetectionFilter() string {
	if c.Tracking.DetectionFilter != "" {
		return c.Tracking.DetectionFilter
	}
	if c.Defaults.DetectionFilter != "" {
		return c.Defaults.DetectionFilter
	}
	return FilterPlaneWithinPolygon
}

// applyDefaults merges default values into an object mapping where fields are empty
func applyDefaults(mapping ObjectMapping, defaults DefaultsConfig) ObjectMapping {
	result := mapping

	if result.Role == "" {
		result.Role = defaults.Role
	}

	return result
}
