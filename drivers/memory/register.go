package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

func init() {
	driverType := types.DriverMemory

	registry.Register(driverType, func(_ context.Context, uri string, _ logger.Logger) (types.Storage, error) {
		return namedStorage(uri)
	})
	registry.RegisterState(driverType, func(_ context.Context, uri, _ string) (state.Store, error) {
		return namedStateStore(uri)
	})
	registry.RegisterURIParser(driverType, URIParser{})
}

// Stores opened by URI live for the process and are shared by name, so
// memory://name used for both storage and state refers to one database.
var (
	namedMu       sync.Mutex
	namedStorages = map[string]*Storage{}
	namedStates   = map[string]*StateStore{}
)

func namedStorage(uri string) (*Storage, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid memory URI: %w", err)
	}
	namedMu.Lock()
	defer namedMu.Unlock()
	if s, ok := namedStorages[u.Host]; ok {
		return s, nil
	}
	var opts []Option
	if v := u.Query().Get("version"); v != "" {
		opts = append(opts, WithVersion(v))
	}
	s := NewStorage(opts...)
	namedStorages[u.Host] = s
	return s, nil
}

func namedStateStore(uri string) (*StateStore, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid memory URI: %w", err)
	}
	namedMu.Lock()
	defer namedMu.Unlock()
	if s, ok := namedStates[u.Host]; ok {
		return s, nil
	}
	s := NewStateStore()
	namedStates[u.Host] = s
	return s, nil
}

// URIParser accepts memory://[name][?version=X.Y.Z].
type URIParser struct{}

func (URIParser) ParseURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI format: %w", err)
	}
	if u.Scheme != "memory" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	return uri, nil
}

func (URIParser) GetSupportedSchemes() []string { return []string{"memory"} }

func (URIParser) GetDriverType() string { return string(types.DriverMemory) }
