package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"vidextract/domain/extraction"
)

// Errors for config management
var (
	ErrPresetNotFound = errors.New("preset not found")
	ErrDuplicateKey   = errors.New("key already exists")
	ErrBuiltinPreset  = errors.New("built-in preset cannot be changed")
	ErrInvalidName    = errors.New("invalid preset name")
)

var presetNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ConfigManager provides CRUD operations for config entries
type ConfigManager struct {
	config     *Config
	configPath string
}

// NewConfigManager creates a new config manager
func NewConfigManager(cfg *Config, configPath string) *ConfigManager {
	return &ConfigManager{
		config:     cfg,
		configPath: configPath,
	}
}

// Preset is a named extraction config
type Preset struct {
	Name    string
	Builtin bool
	Config  extraction.Config
}

// AddPreset stores a custom preset and saves the config file
func (m *ConfigManager) AddPreset(name string, cfg extraction.Config) error {
	name, err := normalizePresetName(name)
	if err != nil {
		return err
	}
	if isBuiltin(name) {
		return fmt.Errorf("%w: %q", ErrBuiltinPreset, name)
	}
	if _, exists := m.config.Presets[name]; exists {
		return fmt.Errorf("%w: preset %q", ErrDuplicateKey, name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if m.config.Presets == nil {
		m.config.Presets = make(map[string]extraction.Config)
	}
	m.config.Presets[name] = cfg
	return Save(m.config, m.configPath)
}

// UpdatePreset replaces a custom preset and saves the config file
func (m *ConfigManager) UpdatePreset(name string, cfg extraction.Config) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if isBuiltin(name) {
		return fmt.Errorf("%w: %q", ErrBuiltinPreset, name)
	}
	if _, exists := m.config.Presets[name]; !exists {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config.Presets[name] = cfg
	return Save(m.config, m.configPath)
}

// RemovePreset deletes a custom preset and saves the config file
func (m *ConfigManager) RemovePreset(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if isBuiltin(name) {
		return fmt.Errorf("%w: %q", ErrBuiltinPreset, name)
	}
	if _, exists := m.config.Presets[name]; !exists {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}

	delete(m.config.Presets, name)
	return Save(m.config, m.configPath)
}

// GetPreset resolves a built-in or custom preset by name (case-insensitive).
// Built-in names take precedence.
func (m *ConfigManager) GetPreset(name string) (Preset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if cfg, err := extraction.Named(name); err == nil {
		return Preset{Name: name, Builtin: true, Config: cfg}, nil
	}
	if cfg, exists := m.config.Presets[name]; exists {
		return Preset{Name: name, Config: cfg}, nil
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrPresetNotFound, name)
}

// ListPresets returns built-in presets followed by custom ones, each
// group sorted by name
func (m *ConfigManager) ListPresets() []Preset {
	var result []Preset
	for _, name := range extraction.PresetNames() {
		cfg, _ := extraction.Named(name)
		result = append(result, Preset{Name: name, Builtin: true, Config: cfg})
	}

	custom := make([]string, 0, len(m.config.Presets))
	for name := range m.config.Presets {
		custom = append(custom, name)
	}
	sort.Strings(custom)
	for _, name := range custom {
		result = append(result, Preset{Name: name, Config: m.config.Presets[name]})
	}
	return result
}

// SetDefaultExtraction replaces the extraction defaults and saves the config file
func (m *ConfigManager) SetDefaultExtraction(cfg extraction.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Extraction = cfg
	return Save(m.config, m.configPath)
}

// SuggestAddPresetCommand returns a helpful command suggestion for adding a preset
func SuggestAddPresetCommand(name string) string {
	return fmt.Sprintf("vidextract config add preset --name %s --interval 5000", name)
}

func normalizePresetName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: preset name is required", ErrInvalidName)
	}
	if !presetNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q (use lowercase letters, digits and dashes)", ErrInvalidName, name)
	}
	return name, nil
}

func isBuiltin(name string) bool {
	_, err := extraction.Named(name)
	return err == nil
}
