package yaml

import (
	"errors"
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

const (
	FileTypeQueueSnapshot = "queue_snapshot"
	FileTypePreferences   = "preferences"
)

var errNoFileType = errors.New("missing file_type")

// Header opens every file statusd writes. Documents embed it inline.
type Header struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

func NewHeader(fileType string) Header {
	return Header{SchemaVersion: CurrentSchemaVersion, FileType: fileType}
}

// ReadHeader decodes only the header fields of content.
func ReadHeader(content []byte) (Header, error) {
	var h Header
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return Header{}, fmt.Errorf("parse yaml: %w", err)
	}
	return h, nil
}

// Check reports why a file with this header cannot be read as fileType.
func (h Header) Check(fileType string) error {
	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("schema_version %d is newer than %d", h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return errNoFileType
	case h.FileType != fileType:
		return fmt.Errorf("file_type is %q, want %q", h.FileType, fileType)
	}
	return nil
}

// CheckHeader reads the header of content and checks it against fileType.
func CheckHeader(content []byte, fileType string) error {
	h, err := ReadHeader(content)
	if err != nil {
		return err
	}
	return h.Check(fileType)
}
