package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load decodes the YAML file at filePath into config after substituting
// environment references. Keys absent from the file keep their current
// values, so config is usually pre-filled with NewConfig.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrorTypeConfig, "config file not found").WithDetail("path", filePath)
		}
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").WithDetail("path", filePath)
	}
	if err := yaml.Unmarshal(expandEnv(data), config); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").WithDetail("path", filePath)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults and validates the result.
// An empty path returns the defaults.
func LoadConfig(filePath string) (*Config, error) {
	cfg := NewConfig()
	if filePath != "" {
		if err := Load(filePath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to filePath as YAML.
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to encode config")
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").WithDetail("path", filePath)
	}
	return nil
}

// expandEnv replaces environment references. An unset variable without a
// fallback becomes the empty string.
func expandEnv(content []byte) []byte {
	return envRef.ReplaceAllFunc(content, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := os.LookupEnv(string(m[1])); ok && v != "" {
			return []byte(v)
		}
		return m[2]
	})
}
