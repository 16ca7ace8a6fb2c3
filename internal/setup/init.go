// Package setup initializes a .statusd directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/prefs"
	atomicyaml "github.com/msageha/statusd/internal/yaml"
	"github.com/msageha/statusd/templates"
)

// DirName is the working directory created inside the project directory.
const DirName = ".statusd"

// Version is stamped into generated config files.
var Version = "dev"

// Run creates <projectDir>/.statusd with its directory skeleton, a
// config.yaml generated from the embedded template and an empty
// preferences file. account fills remote.account when non-empty.
func Run(projectDir, account string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	base := filepath.Join(absDir, DirName)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"queue", "locks", "logs", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(account)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	if err := atomicyaml.GenerateSkeleton(filepath.Join(base, prefs.FileName), atomicyaml.FileTypePreferences); err != nil {
		return fmt.Errorf("write %s: %w", prefs.FileName, err)
	}
	return nil
}

func generateConfig(account string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if account != "" {
		cfg.Remote.Account = account
	}
	cfg.Service.Version = Version
	cfg.Service.Created = time.Now().Format(time.RFC3339)
	return &cfg, nil
}

// LoadConfig reads <dir>/config.yaml and applies defaults.
func LoadConfig(dir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// FindDir returns the nearest .statusd directory at or above start, or ""
// when there is none.
func FindDir(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
