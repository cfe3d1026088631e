// Package config loads and holds all de-identification configuration.
// Settings are built from defaults, overridden by deid-config.yaml, then by
// environment variables. The salt deliberately has no default: running
// without one triggers the transform engine's fallback-salt warning rather
// than silently shipping a baked-in key.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"phi-deidentify/internal/entity"
	"phi-deidentify/internal/logger"
	"phi-deidentify/internal/transform"
)

// DefaultPath is the config file Load reads when none is given.
const DefaultPath = "deid-config.yaml"

// Config holds the full pipeline configuration.
type Config struct {
	LogLevel string `yaml:"logLevel"`

	// Security
	Salt string `yaml:"salt"`

	// Subject state persistence; empty means in-memory only.
	StatePath string `yaml:"statePath"`

	// Rulebook
	DefaultAction string            `yaml:"defaultAction"`
	Rules         map[string]string `yaml:"rules"`
	Templates     map[string]string `yaml:"templates"`
}

// Load returns config with defaults overridden by the YAML file at path
// (DefaultPath when empty) and then by env vars. A missing file is fine;
// an unreadable or malformed one is an error.
func Load(path string, log *logger.Logger) (*Config, error) {
	if log == nil {
		log = logger.New("CONFIG", "info")
	}
	if path == "" {
		path = DefaultPath
	}
	cfg := defaults()
	if err := loadFile(cfg, path, log); err != nil {
		return nil, err
	}
	loadEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:      "info",
		DefaultAction: string(transform.ActionRedact),
		Rules: map[string]string{
			string(entity.CategoryName):      string(transform.ActionPseudonym),
			string(entity.CategoryMRN):       string(transform.ActionHash),
			string(entity.CategoryEncounter): string(transform.ActionHash),
			string(entity.CategoryAccount):   string(transform.ActionHash),
			string(entity.CategorySSN):       string(transform.ActionRedact),
			string(entity.CategoryPhone):     string(transform.ActionRedact),
			string(entity.CategoryFax):       string(transform.ActionRedact),
			string(entity.CategoryEmail):     string(transform.ActionRedact),
			string(entity.CategoryURL):       string(transform.ActionRedact),
			string(entity.CategoryIPAddress): string(transform.ActionRedact),
			string(entity.CategoryDate):      string(transform.ActionDateShift),
			string(entity.CategoryZIP):       string(transform.ActionGeneralize),
			string(entity.CategoryAgeOver89): string(transform.ActionGeneralize),
			string(entity.CategoryLocation):  string(transform.ActionRedact),
			string(entity.CategoryOrg):       string(transform.ActionRedact),
		},
		Templates: map[string]string{
			string(entity.CategoryName):      "PATIENT_{code}",
			string(entity.CategoryMRN):       "MRN_{code}",
			string(entity.CategoryEncounter): "ENC_{code}",
			string(entity.CategoryAccount):   "ACCT_{code}",
			transform.DefaultTemplateKey:     "ID_{code}",
		},
	}
}

func loadFile(cfg *Config, path string, log *logger.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file is optional
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	// File entries merge into the default maps instead of replacing them,
	// so a config naming two categories keeps defaults for the rest.
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.Salt != "" {
		cfg.Salt = file.Salt
	}
	if file.StatePath != "" {
		cfg.StatePath = file.StatePath
	}
	if file.DefaultAction != "" {
		cfg.DefaultAction = file.DefaultAction
	}
	for k, v := range file.Rules {
		cfg.Rules[k] = v
	}
	for k, v := range file.Templates {
		cfg.Templates[k] = v
	}
	log.Infof("load_file", "loaded %s", path)
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("DEID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEID_SALT"); v != "" {
		cfg.Salt = v
	}
	if v := os.Getenv("DEID_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := os.Getenv("DEID_DEFAULT_ACTION"); v != "" {
		cfg.DefaultAction = v
	}
}

// knownActions guards against typos in hand-edited rule maps.
var knownActions = map[string]bool{
	string(transform.ActionRedact):     true,
	string(transform.ActionHash):       true,
	string(transform.ActionPseudonym):  true,
	string(transform.ActionGeneralize): true,
	string(transform.ActionDateShift):  true,
}

func (c *Config) validate() error {
	if !knownActions[c.DefaultAction] {
		return fmt.Errorf("unknown default action %q", c.DefaultAction)
	}
	var bad []string
	for cat, action := range c.Rules {
		if !knownActions[action] {
			bad = append(bad, fmt.Sprintf("%s=%s", cat, action))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("unknown actions in rules: %s", strings.Join(bad, ", "))
	}
	return nil
}

// RuleBook converts the string-keyed config maps into the typed rulebook
// the transform engine dispatches on.
func (c *Config) RuleBook() transform.RuleBook {
	rules := make(map[entity.Category]transform.Action, len(c.Rules))
	for cat, action := range c.Rules {
		rules[entity.Normalize(cat)] = transform.Action(action)
	}
	templates := make(map[string]string, len(c.Templates))
	for k, v := range c.Templates {
		templates[k] = v
	}
	return transform.RuleBook{
		Rules:         rules,
		Templates:     templates,
		DefaultAction: transform.Action(c.DefaultAction),
	}
}
