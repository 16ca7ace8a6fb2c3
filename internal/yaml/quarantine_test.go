package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func checkFile(path, fileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return CheckHeader(content, fileType)
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "preferences.yaml")
	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	moved, err := Quarantine(dir, filePath)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}
	if _, err := os.Stat(moved); err != nil {
		t.Errorf("quarantined file missing: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	if err != nil {
		t.Fatalf("ReadDir quarantine failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "preferences.yaml.") || !strings.HasSuffix(entries[0].Name(), ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", entries[0].Name())
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "queue.yaml")
	if err := RestoreFromBackup(filePath); err == nil {
		t.Error("expected error without backup")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "queue.yaml")
	os.WriteFile(filePath+".bak", []byte("corrupted: [\n"), 0644)
	if err := RestoreFromBackup(filePath); err == nil {
		t.Error("expected error for corrupted backup")
	}
}

func TestGenerateSkeleton(t *testing.T) {
	tests := []struct {
		fileType    string
		expectField string
	}{
		{FileTypeQueueSnapshot, "commands"},
		{FileTypePreferences, "global"},
	}

	for _, tt := range tests {
		t.Run(tt.fileType, func(t *testing.T) {
			filePath := filepath.Join(t.TempDir(), "test.yaml")
			if err := GenerateSkeleton(filePath, tt.fileType); err != nil {
				t.Fatalf("GenerateSkeleton failed: %v", err)
			}

			content, err := os.ReadFile(filePath)
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if err := CheckHeader(content, tt.fileType); err != nil {
				t.Errorf("skeleton header invalid: %v", err)
			}

			var data map[string]any
			if err := yamlv3.Unmarshal(content, &data); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if _, ok := data[tt.expectField]; !ok {
				t.Errorf("missing expected field: %s", tt.expectField)
			}
		})
	}
}

func TestRecoverCorruptedFile_WithBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "statusd_main.yaml")

	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)
	os.WriteFile(filePath+".bak", []byte("schema_version: 1\nfile_type: queue_snapshot\ncommands: {}\n"), 0644)

	rec, err := RecoverCorruptedFile(dir, filePath, FileTypeQueueSnapshot)
	if err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}
	if !rec.FromBackup {
		t.Error("expected restore from backup")
	}
	if err := checkFile(filePath, FileTypeQueueSnapshot); err != nil {
		t.Errorf("restored file invalid: %v", err)
	}
}

func TestRecoverCorruptedFile_WithoutBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "preferences.yaml")
	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	rec, err := RecoverCorruptedFile(dir, filePath, FileTypePreferences)
	if err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}
	if rec.FromBackup {
		t.Error("unexpected restore from backup")
	}
	if rec.QuarantinedTo == "" {
		t.Error("expected quarantine path")
	}
	if err := checkFile(filePath, FileTypePreferences); err != nil {
		t.Errorf("skeleton invalid: %v", err)
	}
}
