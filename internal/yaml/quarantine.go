package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves a corrupted file into <dir>/quarantine and returns its
// new path.
func Quarantine(dir, filePath string) (string, error) {
	quarantineDir := filepath.Join(dir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", baseName, timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return quarantinePath, nil
}

func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

func GenerateSkeleton(filePath string, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

// Recovery describes what RecoverCorruptedFile did.
type Recovery struct {
	QuarantinedTo string
	FromBackup    bool
}

// RecoverCorruptedFile quarantines filePath, then restores it from its .bak
// copy or, failing that, writes an empty skeleton of fileType.
func RecoverCorruptedFile(dir, filePath, fileType string) (Recovery, error) {
	var rec Recovery
	moved, err := Quarantine(dir, filePath)
	if err != nil {
		return rec, fmt.Errorf("quarantine failed: %w", err)
	}
	rec.QuarantinedTo = moved

	if err := RestoreFromBackup(filePath); err == nil {
		rec.FromBackup = true
		return rec, nil
	}

	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return rec, fmt.Errorf("skeleton generation failed: %w", err)
	}
	return rec, nil
}

func skeletonFor(fileType string) any {
	h := NewHeader(fileType)
	switch fileType {
	case FileTypeQueueSnapshot:
		return struct {
			Header   `yaml:",inline"`
			Commands map[int]any `yaml:"commands"`
		}{h, map[int]any{}}
	case FileTypePreferences:
		return struct {
			Header      `yaml:",inline"`
			ChangeTime  int64          `yaml:"change_time"`
			ExamineTime int64          `yaml:"examine_time"`
			Global      map[string]any `yaml:"global"`
			Accounts    map[string]any `yaml:"accounts"`
		}{h, 0, 0, map[string]any{}, map[string]any{}}
	default:
		return h
	}
}
