package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# stockd Configuration File
#
# Every value below is a default. Environment variables override the file,
# e.g. STOCKD_STORE_TYPE=sqlite or STOCKD_MARKET_API_KEY=...
`

// sectionComments are written above each top-level key.
var sectionComments = map[string]string{
	"logging":  "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, file path)",
	"server":   "Time allowed for adapters to drain on shutdown",
	"store":    "Record Store backend: memory, csv, badger, sqlite or s3",
	"adapters": "Command listener. trade_requires_auth makes BUY/SELL require the caller's own session",
	"stats":    "Per-command outcome counters: none, memory or redis (redis: {addr, password, db, prefix, ttl})",
	"metrics":  "Prometheus endpoint served at :<port>/metrics",
	"market":   "Background price feed. Needs an api_key for the default provider",
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	content, err := renderDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func renderDefaultConfig() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}

	// Keys and values alternate in a mapping node's content.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}
	return append([]byte(fileHeader+"\n"), body...), nil
}
