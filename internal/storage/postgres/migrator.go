package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Миграции лежат парами NNNN_name.up.sql / NNNN_name.down.sql.
const (
	migrationsDir     = "sql/migrations"
	migrationLockID   = int64(0x5a6a0001)
	migrationLockWait = 10 * time.Second
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS saga_schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

var migrationNameRe = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

// ErrMigrationDrift возвращается, если уже применённая миграция изменилась на диске.
var ErrMigrationDrift = errors.New("applied migration differs from embedded file")

type migrationDirection string

const (
	directionUp   migrationDirection = "up"
	directionDown migrationDirection = "down"
)

// migrationStep - одна версия схемы с обоими направлениями.
type migrationStep struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m migrationStep) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrateUp применяет не более steps новых миграций; 0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, directionUp, steps)
}

// MigrateDown откатывает steps последних миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, directionDown, steps)
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("postgres store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM saga_schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	if direction != directionUp && direction != directionDown {
		return fmt.Errorf("unsupported migration direction: %q", direction)
	}

	available, err := readMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
			return fmt.Errorf("ensure migration table: %w", err)
		}
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		var plan []migrationStep
		if direction == directionUp {
			plan, err = planUp(available, applied, steps)
		} else {
			plan, err = planDown(available, applied, steps)
		}
		if err != nil {
			return err
		}

		for _, step := range plan {
			if err := runStep(ctx, conn, step, direction); err != nil {
				return err
			}
		}
		return nil
	})
}

// withMigrationLock держит session-level advisory lock на выделенном соединении,
// чтобы параллельно стартующие сервисы не применяли миграции одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	return fn(conn)
}

func runStep(ctx context.Context, conn *sql.Conn, step migrationStep, direction migrationDirection) error {
	err := withTx(ctx, conn, func(tx *sql.Tx) error {
		if direction == directionUp {
			if _, err := tx.ExecContext(ctx, step.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO saga_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				step.Version, step.Name, step.Checksum)
			return err
		}

		if _, err := tx.ExecContext(ctx, step.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM saga_schema_migrations WHERE version = $1`, step.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate %s %s: %w", direction, step, err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM saga_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// planUp выбирает неприменённые миграции по возрастанию версии.
// Изменённая после применения миграция останавливает план целиком.
func planUp(available []migrationStep, applied map[int64]string, limit int) ([]migrationStep, error) {
	var plan []migrationStep
	for _, step := range available {
		checksum, done := applied[step.Version]
		if done {
			if checksum != step.Checksum {
				return nil, fmt.Errorf("%w: %s", ErrMigrationDrift, step)
			}
			continue
		}
		plan = append(plan, step)
	}
	if limit > 0 && len(plan) > limit {
		plan = plan[:limit]
	}
	return plan, nil
}

// planDown выбирает limit последних применённых миграций по убыванию версии.
func planDown(available []migrationStep, applied map[int64]string, limit int) ([]migrationStep, error) {
	byVersion := make(map[int64]migrationStep, len(available))
	for _, step := range available {
		byVersion[step.Version] = step
	}

	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}

	plan := make([]migrationStep, 0, len(versions))
	for _, version := range versions {
		step, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot roll back unknown migration version %d", version)
		}
		plan = append(plan, step)
	}
	return plan, nil
}

// readMigrations собирает пары up/down из fsys и сортирует их по версии.
func readMigrations(fsys fs.FS) ([]migrationStep, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	steps := make(map[int64]*migrationStep)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, name, direction, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		step, ok := steps[version]
		if !ok {
			step = &migrationStep{Version: version, Name: name}
			steps[version] = step
		}
		if step.Name != name {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, step.Name, name)
		}

		target := &step.Up
		if direction == directionDown {
			target = &step.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(steps) == 0 {
		return nil, errors.New("no migration files found")
	}

	result := make([]migrationStep, 0, len(steps))
	for _, step := range steps {
		if step.Up == "" || step.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", step)
		}
		sum := sha256.Sum256([]byte(step.Up))
		step.Checksum = hex.EncodeToString(sum[:])
		result = append(result, *step)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

func parseMigrationName(file string) (int64, string, migrationDirection, error) {
	m := migrationNameRe.FindStringSubmatch(file)
	if m == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}
	version, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("invalid migration version in %s", file)
	}
	return version, m[2], migrationDirection(m[3]), nil
}
