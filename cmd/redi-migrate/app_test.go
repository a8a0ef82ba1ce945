package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/config"
	"github.com/rediwo/redi-migrate/drivers/memory"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/types"
)

const countedDriver types.DriverType = "counted"

// countedConns records every connection opened through counted://.
var countedConns = struct {
	sync.Mutex
	opened, closed int
}{}

type countedStorage struct {
	*memory.Storage
}

func (countedStorage) Close(context.Context) error {
	countedConns.Lock()
	defer countedConns.Unlock()
	countedConns.closed++
	return nil
}

type countedParser struct{}

func (countedParser) ParseURI(uri string) (string, error) { return uri, nil }
func (countedParser) GetSupportedSchemes() []string       { return []string{"counted"} }
func (countedParser) GetDriverType() string               { return string(countedDriver) }

func init() {
	registry.Register(countedDriver, func(_ context.Context, uri string, _ logger.Logger) (types.Storage, error) {
		countedConns.Lock()
		defer countedConns.Unlock()
		// the second connection of counted://fail-writer is refused
		if strings.Contains(uri, "fail-writer") && countedConns.opened%2 == 1 {
			return nil, errors.New("connection refused")
		}
		countedConns.opened++
		return countedStorage{memory.NewStorage()}, nil
	})
	registry.RegisterURIParser(countedDriver, countedParser{})
}

func resetCounted() {
	countedConns.Lock()
	defer countedConns.Unlock()
	countedConns.opened, countedConns.closed = 0, 0
}

func countedApp(t *testing.T, uri string) *app {
	cfg := config.Default()
	cfg.URI = uri
	cfg.StateURI = fmt.Sprintf("memory://%s", strings.ToLower(t.Name()))
	cfg.MigrationsDir = t.TempDir()
	return &app{cfg: cfg, log: logger.NewNullLogger()}
}

func TestOpenUsesSeparateWriter(t *testing.T) {
	resetCounted()
	ctx := context.Background()
	a := countedApp(t, "counted://books")

	s, err := a.open(ctx, true, true)
	require.NoError(t, err)
	require.NotNil(t, s.storage)
	require.NotNil(t, s.writer)
	assert.NotSame(t, s.storage.(countedStorage).Storage, s.writer.(countedStorage).Storage)

	s.close(ctx, a.log)
	assert.Equal(t, 2, countedConns.opened)
	assert.Equal(t, 2, countedConns.closed)
}

func TestOpenWithoutStorageHasNoWriter(t *testing.T) {
	resetCounted()
	a := countedApp(t, "counted://books")

	s, err := a.open(context.Background(), true, false)
	require.NoError(t, err)
	assert.Nil(t, s.storage)
	assert.Nil(t, s.writer)
	assert.Equal(t, 0, countedConns.opened)
}

func TestOpenClosesStorageWhenWriterFails(t *testing.T) {
	resetCounted()
	a := countedApp(t, "counted://fail-writer")

	_, err := a.open(context.Background(), true, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, countedConns.opened)
	assert.Equal(t, 1, countedConns.closed)
}
