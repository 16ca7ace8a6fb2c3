package remote

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	yamlv3 "gopkg.in/yaml.v3"
)

// IdentityResolver uses the decimal local id as the remote id.
type IdentityResolver struct{}

func (IdentityResolver) RemoteID(_ context.Context, localID int64) (string, error) {
	if localID <= 0 {
		return "", fmt.Errorf("invalid local id %d", localID)
	}
	return strconv.FormatInt(localID, 10), nil
}

// TableResolver reads local→remote mappings from a YAML file of the form
//
//	ids:
//	  12: "1577834400000000001"
//
// The file is re-read when a lookup misses, so entries appended by other
// tools become visible without a restart.
type TableResolver struct {
	mu   sync.RWMutex
	path string
	ids  map[int64]string
}

type idTable struct {
	IDs map[int64]string `yaml:"ids"`
}

func NewTableResolver(path string) (*TableResolver, error) {
	r := &TableResolver{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TableResolver) reload() error {
	content, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read id table: %w", err)
	}
	var t idTable
	if err := yamlv3.Unmarshal(content, &t); err != nil {
		return fmt.Errorf("parse id table: %w", err)
	}
	r.mu.Lock()
	r.ids = t.IDs
	r.mu.Unlock()
	return nil
}

func (r *TableResolver) lookup(localID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[localID]
	return id, ok
}

func (r *TableResolver) RemoteID(_ context.Context, localID int64) (string, error) {
	if id, ok := r.lookup(localID); ok {
		return id, nil
	}
	if err := r.reload(); err != nil {
		return "", err
	}
	if id, ok := r.lookup(localID); ok {
		return id, nil
	}
	return "", fmt.Errorf("no remote id for local id %d", localID)
}
