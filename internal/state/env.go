package state

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
)

// Secrets may come from environment instead of config files.
const (
	EnvCommandSecret = "THERMOLINK_COMMAND_SECRET"
	EnvSmtpPassword  = "THERMOLINK_SMTP_PASSWORD"
	EnvMqttPassword  = "THERMOLINK_MQTT_PASSWORD"
)

// LoadDotenv reads KEY=value pairs into process environment.
// Missing file is not an error. Existing variables are not overwritten.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return errors.Annotatef(godotenv.Load(path), "dotenv path=%s", path)
}

// ApplyEnv overrides secrets with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if s := getenv(EnvCommandSecret); s != "" {
		c.Command.Secret = s
	}
	if s := getenv(EnvSmtpPassword); s != "" {
		c.Alert.Smtp.Password = s
	}
	if s := getenv(EnvMqttPassword); s != "" {
		c.Mqtt.Password = s
	}
}
