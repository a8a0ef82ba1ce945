package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// Clear registries for testing
func clearRegistries() {
	mu.Lock()
	defer mu.Unlock()
	storages = make(map[types.DriverType]StorageFactory)
	states = make(map[types.DriverType]StateFactory)
	uriParsers = make(map[types.DriverType]types.URIParser)
}

type mockURIParser struct {
	supportedSchemes []string
	driverType       string
	parseFunc        func(uri string) (string, error)
}

func (m *mockURIParser) ParseURI(uri string) (string, error) {
	if m.parseFunc != nil {
		return m.parseFunc(uri)
	}
	return "", fmt.Errorf("not supported")
}

func (m *mockURIParser) GetSupportedSchemes() []string { return m.supportedSchemes }

func (m *mockURIParser) GetDriverType() string { return m.driverType }

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	clearRegistries()
	factory := func(context.Context, string, logger.Logger) (types.Storage, error) { return nil, nil }

	Register("testdb", factory)
	assert.Panics(t, func() { Register("testdb", factory) })

	stateFactory := func(context.Context, string, string) (state.Store, error) { return nil, nil }
	RegisterState("testdb", stateFactory)
	assert.Panics(t, func() { RegisterState("testdb", stateFactory) })

	parser := &mockURIParser{supportedSchemes: []string{"testdb"}, driverType: "testdb"}
	RegisterURIParser("testdb", parser)
	assert.Panics(t, func() { RegisterURIParser("testdb", parser) })
}

func TestGet(t *testing.T) {
	clearRegistries()
	Register("testdb", func(context.Context, string, logger.Logger) (types.Storage, error) { return nil, nil })

	factory, err := Get("testdb")
	require.NoError(t, err)
	assert.NotNil(t, factory)

	_, err = Get("missing")
	assert.ErrorContains(t, err, "storage driver missing not registered")

	_, err = GetState("testdb")
	assert.ErrorContains(t, err, "state driver testdb not registered")

	_, err = GetURIParser("testdb")
	assert.ErrorContains(t, err, "no URI parser registered")
}

func TestGetAllURIParsersReturnsCopy(t *testing.T) {
	clearRegistries()
	RegisterURIParser("a", &mockURIParser{supportedSchemes: []string{"a"}, driverType: "a"})

	all := GetAllURIParsers()
	require.Len(t, all, 1)
	delete(all, "a")

	_, err := GetURIParser("a")
	assert.NoError(t, err)
}

func TestParseURI(t *testing.T) {
	clearRegistries()

	_, _, err := ParseURI("testdb://host/db")
	require.EqualError(t, err, "no URI parsers registered")

	RegisterURIParser("testdb", &mockURIParser{
		supportedSchemes: []string{"testdb", "testdb+srv"},
		driverType:       "testdb",
		parseFunc: func(uri string) (string, error) {
			if uri == "testdb://bad" {
				return "", fmt.Errorf("bad host")
			}
			return "native:" + uri, nil
		},
	})

	tests := []struct {
		name    string
		uri     string
		driver  types.DriverType
		native  string
		wantErr string
	}{
		{name: "primary scheme", uri: "testdb://host/db", driver: "testdb", native: "native:testdb://host/db"},
		{name: "alternate scheme", uri: "testdb+srv://host/db", driver: "testdb", native: "native:testdb+srv://host/db"},
		{name: "scheme is case insensitive", uri: "TESTDB://host/db", driver: "testdb", native: "native:TESTDB://host/db"},
		{name: "parser error", uri: "testdb://bad", wantErr: "bad host"},
		{name: "unknown scheme", uri: "other://host", wantErr: `unsupported URI scheme "other"`},
		{name: "missing scheme", uri: "host/db", wantErr: "missing scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, native, err := ParseURI(tt.uri)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.native, native)
		})
	}
}

func TestOpenStorageAndState(t *testing.T) {
	clearRegistries()
	RegisterURIParser("mem", &mockURIParser{
		supportedSchemes: []string{"mem"},
		driverType:       "mem",
		parseFunc:        func(uri string) (string, error) { return uri, nil },
	})
	var gotNative, gotCollection string
	Register("mem", func(_ context.Context, native string, _ logger.Logger) (types.Storage, error) {
		gotNative = native
		return nil, nil
	})
	RegisterState("mem", func(_ context.Context, _ string, collection string) (state.Store, error) {
		gotCollection = collection
		return nil, nil
	})

	ctx := context.Background()
	_, err := OpenStorage(ctx, "mem://db", logger.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, "mem://db", gotNative)

	_, err = OpenState(ctx, "mem://", "migration_state")
	require.NoError(t, err)
	assert.Equal(t, "migration_state", gotCollection)

	_, err = OpenStorage(ctx, "nope://x", nil)
	assert.Error(t, err)
}

func TestConcurrentAccess(t *testing.T) {
	clearRegistries()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			driverType := types.DriverType(fmt.Sprintf("concurrent%d", id))
			Register(driverType, func(context.Context, string, logger.Logger) (types.Storage, error) { return nil, nil })
			RegisterURIParser(driverType, &mockURIParser{supportedSchemes: []string{string(driverType)}, driverType: string(driverType)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := Get(types.DriverType(fmt.Sprintf("concurrent%d", id)))
			assert.NoError(t, err)
			_ = GetAllURIParsers()
		}(i)
	}
	wg.Wait()
	assert.Len(t, GetAllURIParsers(), 10)
}
