// Package registry is the sqlite-backed catalog of known monitoring
// sites and their sensors.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/airfuse/airfuse/internal/measurement"
	"github.com/airfuse/airfuse/internal/store"
)

// Registry errors.
var (
	ErrSiteNotFound = errors.New("site not found")
)

// Sensor is one instrument at a monitoring site.
type Sensor struct {
	ID   int64
	Name string
}

// Site is a known monitoring location with its sensors.
type Site struct {
	ID          int64
	Name        string
	Location    measurement.Location
	Sensors     []Sensor
	LastUpdated time.Time
}

// Stats summarizes the catalog.
type Stats struct {
	Sites          int
	Sensors        int
	Relationships  int
	SensorsPerSite float64
}

// SQLite is a site registry backed by a sqlite database.
type SQLite struct {
	db *sql.DB
}

// Open opens (and migrates) a sqlite registry at path. Use ":memory:"
// for an ephemeral registry.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping registry database: %w", err)
	}

	r := &SQLite{db: db}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate registry database: %w", err)
	}
	return r, nil
}

func (r *SQLite) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sites (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			last_updated DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sensors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS site_sensors (
			site_id INTEGER,
			sensor_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (site_id, sensor_id),
			FOREIGN KEY (site_id) REFERENCES sites(id) ON DELETE CASCADE,
			FOREIGN KEY (sensor_id) REFERENCES sensors(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_sites_coords ON sites(latitude, longitude);
		CREATE INDEX IF NOT EXISTS idx_site_sensors_site ON site_sensors(site_id);
		CREATE INDEX IF NOT EXISTS idx_site_sensors_sensor ON site_sensors(sensor_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (r *SQLite) Close() error {
	return r.db.Close()
}

// UpsertSites stores sites and their sensor relationships in one
// transaction, replacing each site's previous sensor links.
func (r *SQLite) UpsertSites(ctx context.Context, sites []Site) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, site := range sites {
		var lastUpdated any
		if !site.LastUpdated.IsZero() {
			lastUpdated = site.LastUpdated.UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO sites (id, name, latitude, longitude, last_updated, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			site.ID, site.Name, site.Location.Lat, site.Location.Lon, lastUpdated,
		); err != nil {
			return fmt.Errorf("upsert site %d: %w", site.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM site_sensors WHERE site_id = ?`, site.ID,
		); err != nil {
			return fmt.Errorf("clear sensors for site %d: %w", site.ID, err)
		}

		for _, sensor := range site.Sensors {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO sensors (id, name) VALUES (?, ?)`,
				sensor.ID, sensor.Name,
			); err != nil {
				return fmt.Errorf("upsert sensor %d: %w", sensor.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO site_sensors (site_id, sensor_id) VALUES (?, ?)`,
				site.ID, sensor.ID,
			); err != nil {
				return fmt.Errorf("link sensor %d to site %d: %w", sensor.ID, site.ID, err)
			}
		}
	}

	return tx.Commit()
}

// Site returns one site with its sensors.
func (r *SQLite) Site(ctx context.Context, id int64) (Site, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, latitude, longitude, last_updated FROM sites WHERE id = ?`, id)

	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Site{}, ErrSiteNotFound
	}
	if err != nil {
		return Site{}, fmt.Errorf("query site %d: %w", id, err)
	}

	site.Sensors, err = r.sensorsForSite(ctx, id)
	if err != nil {
		return Site{}, err
	}
	return site, nil
}

// SensorsBySite returns the sensors registered at a site.
func (r *SQLite) SensorsBySite(ctx context.Context, siteID int64) ([]Sensor, error) {
	return r.sensorsForSite(ctx, siteID)
}

// Nearby returns sites within radius meters of loc, nearest first.
// The coordinate index prunes with a bounding box; exact distances use
// the haversine formula.
func (r *SQLite) Nearby(ctx context.Context, loc measurement.Location, radiusMeters float64, limit int) ([]Site, error) {
	// Rough degrees-per-meter box; 1 degree latitude ≈ 111km.
	latDelta := radiusMeters / 111000
	lonDelta := latDelta * 2 // generous at mid latitudes, exact filter below

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, last_updated
		FROM sites
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		loc.Lat-latDelta, loc.Lat+latDelta,
		loc.Lon-lonDelta, loc.Lon+lonDelta,
	)
	if err != nil {
		return nil, fmt.Errorf("query nearby sites: %w", err)
	}
	defer rows.Close()

	type scored struct {
		site Site
		dist float64
	}
	var candidates []scored

	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		dist := store.HaversineMeters(loc, site.Location)
		if dist <= radiusMeters {
			candidates = append(candidates, scored{site: site, dist: dist})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearby sites: %w", err)
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].dist < candidates[b].dist
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	sites := make([]Site, 0, len(candidates))
	for _, c := range candidates {
		c.site.Sensors, err = r.sensorsForSite(ctx, c.site.ID)
		if err != nil {
			return nil, err
		}
		sites = append(sites, c.site)
	}
	return sites, nil
}

// Stats returns catalog summary statistics.
func (r *SQLite) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	row := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sites),
			(SELECT COUNT(*) FROM sensors),
			(SELECT COUNT(*) FROM site_sensors)`)
	if err := row.Scan(&s.Sites, &s.Sensors, &s.Relationships); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if s.Sites > 0 {
		s.SensorsPerSite = float64(s.Relationships) / float64(s.Sites)
	}
	return s, nil
}

func (r *SQLite) sensorsForSite(ctx context.Context, siteID int64) ([]Sensor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name
		FROM sensors s
		JOIN site_sensors ss ON ss.sensor_id = s.id
		WHERE ss.site_id = ?
		ORDER BY s.id`, siteID)
	if err != nil {
		return nil, fmt.Errorf("query sensors for site %d: %w", siteID, err)
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		var sensor Sensor
		if err := rows.Scan(&sensor.ID, &sensor.Name); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (Site, error) {
	var (
		site        Site
		lastUpdated sql.NullTime
	)
	if err := row.Scan(&site.ID, &site.Name, &site.Location.Lat, &site.Location.Lon, &lastUpdated); err != nil {
		return Site{}, err
	}
	if lastUpdated.Valid {
		site.LastUpdated = lastUpdated.Time
	}
	return site, nil
}
