package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

const (
	selectJurisdictions = `SELECT id FROM jurisdictions WHERE active ORDER BY id`
	selectZones         = `SELECT id, name, lat, lon, current_coverage, target_coverage, demand_level,
		population, status, accepted_types FROM zones ORDER BY id`
	selectResources = `SELECT id, type, current_zone, capacity, utilization, cost_per_hour, status
		FROM resources ORDER BY id`
	selectIncidents = `SELECT i.id, i.occurred_at, i.lat, i.lon, i.category, i.severity, i.jurisdiction, i.entities
		FROM incidents i JOIN jurisdictions j ON j.id = i.jurisdiction AND j.active
		WHERE i.occurred_at >= $1 ORDER BY i.occurred_at, i.id`
	selectAffiliations = `SELECT entity_id, flag FROM entity_affiliations ORDER BY entity_id, flag`
	insertIncident     = `INSERT INTO incidents (id, occurred_at, lat, lon, category, severity, jurisdiction, entities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`
)

// SnapshotSource loads reference data for the snapshot refresher.
type SnapshotSource struct {
	pool     *pgxpool.Pool
	lookback time.Duration
	clock    clockwork.Clock
	logger   logging.Logger
}

var _ snapshot.Source = (*SnapshotSource)(nil)

// NewSnapshotSource loads incidents newer than lookback; zero loads all.
func NewSnapshotSource(pool *pgxpool.Pool, lookback time.Duration, clock clockwork.Clock, log logging.Logger) *SnapshotSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SnapshotSource{pool: pool, lookback: lookback, clock: clock, logger: log.Named("pg-source")}
}

// Cutoff is the earliest incident time loaded.
func (s *SnapshotSource) Cutoff() time.Time {
	if s.lookback <= 0 {
		return time.Unix(0, 0).UTC()
	}
	return s.clock.Now().Add(-s.lookback).UTC()
}

// Load implements snapshot.Source.
func (s *SnapshotSource) Load(ctx context.Context) (*snapshot.Data, error) {
	var d snapshot.Data
	start := s.clock.Now()
	err := WithReadOnlySnapshot(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		if d.Jurisdictions, err = loadJurisdictions(ctx, tx); err != nil {
			return err
		}
		if d.Zones, err = loadZones(ctx, tx); err != nil {
			return err
		}
		if d.Resources, err = loadResources(ctx, tx); err != nil {
			return err
		}
		if d.Incidents, err = loadIncidents(ctx, tx, s.Cutoff()); err != nil {
			return err
		}
		d.Affiliations, err = loadAffiliations(ctx, tx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSnapshotLoadFailed, "load reference data from postgres")
	}
	s.logger.Debug("reference data loaded",
		logging.Int("zones", len(d.Zones)),
		logging.Int("resources", len(d.Resources)),
		logging.Int("incidents", len(d.Incidents)),
		logging.Duration("elapsed", s.clock.Since(start)))
	return &d, nil
}

func loadJurisdictions(ctx context.Context, tx pgx.Tx) ([]string, error) {
	rows, err := tx.Query(ctx, selectJurisdictions)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "query jurisdictions")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan jurisdictions")
	}
	return ids, nil
}

func loadZones(ctx context.Context, tx pgx.Tx) ([]allocation.Zone, error) {
	rows, err := tx.Query(ctx, selectZones)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "query zones")
	}
	defer rows.Close()

	var zones []allocation.Zone
	for rows.Next() {
		var z allocation.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Center.Lat, &z.Center.Lon, &z.CurrentCoverage,
			&z.TargetCoverage, &z.DemandLevel, &z.Population, &z.Status, &z.AcceptedTypes); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan zone")
		}
		if len(z.AcceptedTypes) == 0 {
			z.AcceptedTypes = nil
		}
		zones = append(zones, z)
	}
	return zones, wrapRowsErr(rows.Err(), "zones")
}

func loadResources(ctx context.Context, tx pgx.Tx) ([]allocation.Resource, error) {
	rows, err := tx.Query(ctx, selectResources)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "query resources")
	}
	defer rows.Close()

	var out []allocation.Resource
	for rows.Next() {
		var (
			r      allocation.Resource
			status string
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.CurrentZone, &r.Capacity, &r.Utilization, &r.CostPerHour, &status); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan resource")
		}
		r.Status = allocation.ResourceStatus(status)
		out = append(out, r)
	}
	return out, wrapRowsErr(rows.Err(), "resources")
}

func loadIncidents(ctx context.Context, tx pgx.Tx, since time.Time) ([]incident.Incident, error) {
	rows, err := tx.Query(ctx, selectIncidents, since)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "query incidents")
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		var (
			inc      incident.Incident
			category string
			entities []byte
		)
		if err := rows.Scan(&inc.ID, &inc.OccurredAt, &inc.Location.Lat, &inc.Location.Lon,
			&category, &inc.Severity, &inc.Jurisdiction, &entities); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan incident")
		}
		inc.Category = incident.Category(category)
		inc.OccurredAt = inc.OccurredAt.UTC()
		if len(entities) > 0 {
			if err := json.Unmarshal(entities, &inc.Entities); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode entities of incident "+inc.ID)
			}
			if len(inc.Entities) == 0 {
				inc.Entities = nil
			}
		}
		out = append(out, inc)
	}
	return out, wrapRowsErr(rows.Err(), "incidents")
}

func loadAffiliations(ctx context.Context, tx pgx.Tx) (map[string][]string, error) {
	rows, err := tx.Query(ctx, selectAffiliations)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "query affiliations")
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var id, flag string
		if err := rows.Scan(&id, &flag); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan affiliation")
		}
		out[id] = append(out[id], flag)
	}
	if len(out) == 0 {
		out = nil
	}
	return out, wrapRowsErr(rows.Err(), "affiliations")
}

func wrapRowsErr(err error, what string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.ErrCodeDatabaseError, "iterate "+what)
}

// IncidentWriter persists ingested incidents so the next snapshot sees them.
type IncidentWriter struct {
	pool *pgxpool.Pool
}

func NewIncidentWriter(pool *pgxpool.Pool) *IncidentWriter { return &IncidentWriter{pool: pool} }

// Insert stores incs in one batch, skipping ids already present.  It
// returns how many rows were new.
func (w *IncidentWriter) Insert(ctx context.Context, incs []incident.Incident) (int64, error) {
	if len(incs) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, inc := range incs {
		entities, err := json.Marshal(entitiesOrEmpty(inc.Entities))
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeSerialization, "encode entities")
		}
		batch.Queue(insertIncident, inc.ID, inc.OccurredAt.UTC(), inc.Location.Lat, inc.Location.Lon,
			string(inc.Category), inc.Severity, inc.Jurisdiction, entities)
	}

	br := w.pool.SendBatch(ctx, batch)
	defer br.Close()
	var inserted int64
	for range incs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, errors.Wrap(err, errors.ErrCodeDatabaseError, "insert incident")
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func entitiesOrEmpty(e []incident.EntityRef) []incident.EntityRef {
	if e == nil {
		return []incident.EntityRef{}
	}
	return e
}
