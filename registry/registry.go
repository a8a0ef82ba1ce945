// Package registry maps URI schemes to the drivers that serve them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// StorageFactory opens the record storage behind a native URI.
type StorageFactory func(ctx context.Context, nativeURI string, log logger.Logger) (types.Storage, error)

// StateFactory opens a state store behind a native URI. collection names
// the collection or table holding the state records.
type StateFactory func(ctx context.Context, nativeURI, collection string) (state.Store, error)

var (
	storages   = make(map[types.DriverType]StorageFactory)
	states     = make(map[types.DriverType]StateFactory)
	uriParsers = make(map[types.DriverType]types.URIParser)
	mu         sync.RWMutex
)

// Register registers a storage driver factory
func Register(driverType types.DriverType, factory StorageFactory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := storages[driverType]; exists {
		panic(fmt.Sprintf("storage driver %s already registered", driverType))
	}
	storages[driverType] = factory
}

// RegisterState registers a state store factory
func RegisterState(driverType types.DriverType, factory StateFactory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := states[driverType]; exists {
		panic(fmt.Sprintf("state driver %s already registered", driverType))
	}
	states[driverType] = factory
}

// RegisterURIParser registers the URI parser of a driver
func RegisterURIParser(driverType types.DriverType, parser types.URIParser) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := uriParsers[driverType]; exists {
		panic(fmt.Sprintf("URI parser for %s already registered", driverType))
	}
	uriParsers[driverType] = parser
}

// Get retrieves a registered storage driver factory
func Get(driverType types.DriverType) (StorageFactory, error) {
	mu.RLock()
	defer mu.RUnlock()

	factory, exists := storages[driverType]
	if !exists {
		return nil, fmt.Errorf("storage driver %s not registered", driverType)
	}
	return factory, nil
}

// GetState retrieves a registered state store factory
func GetState(driverType types.DriverType) (StateFactory, error) {
	mu.RLock()
	defer mu.RUnlock()

	factory, exists := states[driverType]
	if !exists {
		return nil, fmt.Errorf("state driver %s not registered", driverType)
	}
	return factory, nil
}

// GetURIParser retrieves the URI parser of a driver
func GetURIParser(driverType types.DriverType) (types.URIParser, error) {
	mu.RLock()
	defer mu.RUnlock()

	parser, exists := uriParsers[driverType]
	if !exists {
		return nil, fmt.Errorf("no URI parser registered for %s", driverType)
	}
	return parser, nil
}

// GetAllURIParsers returns a copy of every registered URI parser
func GetAllURIParsers() map[types.DriverType]types.URIParser {
	mu.RLock()
	defer mu.RUnlock()

	out := make(map[types.DriverType]types.URIParser, len(uriParsers))
	for k, v := range uriParsers {
		out[k] = v
	}
	return out
}

// ParseURI finds the driver whose parser supports the scheme of uri and
// returns its type together with the native URI.
func ParseURI(uri string) (types.DriverType, string, error) {
	parsers := GetAllURIParsers()
	if len(parsers) == 0 {
		return "", "", fmt.Errorf("no URI parsers registered")
	}

	// not url.Parse: sqlite://:memory: has no valid host
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("invalid URI %q: missing scheme", uri)
	}
	scheme = strings.ToLower(scheme)

	// deterministic order for overlapping schemes
	driverTypes := make([]string, 0, len(parsers))
	for dt := range parsers {
		driverTypes = append(driverTypes, string(dt))
	}
	sort.Strings(driverTypes)

	for _, dt := range driverTypes {
		parser := parsers[types.DriverType(dt)]
		for _, s := range parser.GetSupportedSchemes() {
			if s != scheme {
				continue
			}
			native, err := parser.ParseURI(uri)
			if err != nil {
				return "", "", err
			}
			return types.DriverType(dt), native, nil
		}
	}
	return "", "", fmt.Errorf("unsupported URI scheme %q", scheme)
}

// OpenStorage opens the record storage for uri.
func OpenStorage(ctx context.Context, uri string, log logger.Logger) (types.Storage, error) {
	driverType, native, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	factory, err := Get(driverType)
	if err != nil {
		return nil, err
	}
	return factory(ctx, native, log)
}

// OpenState opens the state store for uri.
func OpenState(ctx context.Context, uri, collection string) (state.Store, error) {
	driverType, native, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	factory, err := GetState(driverType)
	if err != nil {
		return nil, err
	}
	return factory(ctx, native, collection)
}
