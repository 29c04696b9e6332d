//go:build integration

package postgres_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "crimesight_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	p, _ := strconv.Atoi(port.Port())

	return config.DatabaseConfig{Host: host, Port: p, User: "test", Password: "test", DBName: "crimesight_test", SSLMode: "disable"}
}

func TestMigrations_UpStatusRollback(t *testing.T) {
	cfg := startPostgres(t)

	require.NoError(t, postgres.RunMigrations(cfg.DSN()))
	require.NoError(t, postgres.RunMigrations(cfg.DSN()), "second run is a no-op")

	version, dirty, err := postgres.MigrationStatus(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, postgres.RollbackMigration(cfg.DSN(), 1))
	version, _, err = postgres.MigrationStatus(cfg.DSN())
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestSnapshotSource_Load(t *testing.T) {
	cfg := startPostgres(t)
	require.NoError(t, postgres.RunMigrations(cfg.DSN()))

	log := logging.NewNopLogger()
	pool, err := postgres.NewConnectionPool(cfg, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	ctx := context.Background()

	_, err = pool.Exec(ctx, `
		INSERT INTO jurisdictions (id, active) VALUES ('north', TRUE), ('south', TRUE), ('retired', FALSE);
		INSERT INTO zones (id, name, lat, lon, current_coverage, target_coverage, demand_level, population, accepted_types)
		VALUES ('z1', 'Harbor', 40.70, -74.01, 0.3, 0.8, 0.9, 12000, '{patrol_car}'),
		       ('z2', 'Midtown', 40.75, -73.98, 0.6, 0.7, 0.4, 30000, '{}');
		INSERT INTO resources (id, type, current_zone, capacity, utilization, cost_per_hour, status)
		VALUES ('r1', 'patrol_car', 'z2', 0.2, 0.5, 80, 'available');
		INSERT INTO entity_affiliations (entity_id, flag) VALUES ('off-1', 'gang:eastside');
	`)
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := incident.Incident{
		ID: "i-recent", OccurredAt: now.Add(-24 * time.Hour), Location: geo.Point{Lat: 40.71, Lon: -74.0},
		Category: incident.CategoryViolent, Severity: 0.9, Jurisdiction: "north",
		Entities: []incident.EntityRef{{Kind: incident.EntityOffender, ID: "off-1"}},
	}
	old := incident.Incident{
		ID: "i-old", OccurredAt: now.Add(-400 * 24 * time.Hour), Location: geo.Point{Lat: 40.72, Lon: -74.0},
		Category: incident.CategoryDrug, Severity: 0.2, Jurisdiction: "south",
	}
	inactive := incident.Incident{
		ID: "i-retired", OccurredAt: now.Add(-2 * time.Hour), Location: geo.Point{Lat: 40.73, Lon: -74.0},
		Category: incident.CategoryProperty, Severity: 0.4, Jurisdiction: "retired",
	}
	w := postgres.NewIncidentWriter(pool)
	n, err := w.Insert(ctx, []incident.Incident{recent, old, inactive})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = w.Insert(ctx, []incident.Incident{recent})
	require.NoError(t, err)
	assert.Zero(t, n, "duplicates are skipped")

	src := postgres.NewSnapshotSource(pool, 90*24*time.Hour, clockwork.NewFakeClockAt(now), log)
	d, err := src.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"north", "south"}, d.Jurisdictions)
	require.Len(t, d.Zones, 2)
	assert.Equal(t, []string{"patrol_car"}, d.Zones[0].AcceptedTypes)
	assert.Nil(t, d.Zones[1].AcceptedTypes)
	require.Len(t, d.Resources, 1)
	assert.Equal(t, allocation.ResourceAvailable, d.Resources[0].Status)
	require.Len(t, d.Incidents, 1, "old and inactive-jurisdiction incidents are not loaded")
	assert.Equal(t, recent, d.Incidents[0])
	assert.Equal(t, map[string][]string{"off-1": {"gang:eastside"}}, d.Affiliations)
}

func TestMigrations_RejectRowsTheEngineCannotUse(t *testing.T) {
	cfg := startPostgres(t)
	require.NoError(t, postgres.RunMigrations(cfg.DSN()))

	pool, err := postgres.NewConnectionPool(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	ctx := context.Background()

	_, err = pool.Exec(ctx, `
		INSERT INTO jurisdictions (id) VALUES ('north');
		INSERT INTO zones (id, lat, lon) VALUES ('z1', 40.7, -74.0);
	`)
	require.NoError(t, err)

	rejected := map[string]string{
		"null island":     `INSERT INTO incidents (id, occurred_at, lat, lon, category, severity, jurisdiction) VALUES ('a', NOW(), 0, 0, 'drug', 0.5, 'north')`,
		"latitude range":  `INSERT INTO incidents (id, occurred_at, lat, lon, category, severity, jurisdiction) VALUES ('b', NOW(), 91, 10, 'drug', 0.5, 'north')`,
		"longitude range": `INSERT INTO incidents (id, occurred_at, lat, lon, category, severity, jurisdiction) VALUES ('c', NOW(), 10, -181, 'drug', 0.5, 'north')`,
		"zero capacity":   `INSERT INTO resources (id, type, current_zone, capacity) VALUES ('r0', 'patrol', 'z1', 0)`,
		"full capacity":   `INSERT INTO resources (id, type, current_zone, capacity) VALUES ('r1', 'patrol', 'z1', 1)`,
	}
	for name, stmt := range rejected {
		_, err := pool.Exec(ctx, stmt)
		assert.Error(t, err, name)
	}
}
