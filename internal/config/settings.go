package config

import (
	"github.com/emberwatch-io/emberwatch/internal/models"
)

// LoadSettings loads the global settings from <root>/settings.yaml.
// If the file doesn't exist, returns default settings.
func LoadSettings(root string) (*models.Settings, error) {
	return LoadYAMLOrDefault(SettingsFile(root), models.NewSettings)
}

// SaveSettings saves the global settings to <root>/settings.yaml.
func SaveSettings(root string, settings *models.Settings) error {
	return SaveYAML(SettingsFile(root), settings)
}
