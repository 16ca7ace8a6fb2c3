package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeRun      IDType = "run"
	IDTypeListener IDType = "lsn"
)

var validIDTypes = map[IDType]bool{
	IDTypeRun:      true,
	IDTypeListener: true,
}

var idRegex = regexp.MustCompile(`^(run|lsn)_[0-9a-f]{32}$`)

// GenerateID returns a prefixed random identifier such as
// run_4f9d0c6e9b7a4f2e8d1c0b9a8f7e6d5c.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return fmt.Sprintf("%s_%s", idType, strings.ReplaceAll(u.String(), "-", "")), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}
