// Package catalog reads the monitoring catalog from PostgreSQL: per-host
// system thresholds, the daemons monitored on each host, and the contacts to
// notify when an alarm fires.
package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benkietzman/centralmon/internal/registry"
)

// Contact is one person to notify. Pager selects page delivery in addition
// to email.
type Contact struct {
	Email  string
	UserID string
	Pager  bool
}

// Store is the PostgreSQL-backed catalog reader.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgxpool connection to connStr and pings the database.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ServerThresholds returns the system thresholds for the named host. The
// second return is false when the host is not in the catalog.
func (s *Store) ServerThresholds(ctx context.Context, host string) (registry.SystemThresholds, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT processes, cpu_usage, main_memory, swap_memory, disk_size
		FROM   server
		WHERE  name = $1`, host)
	if err != nil {
		return registry.SystemThresholds{}, false, fmt.Errorf("query server %s: %w", host, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return registry.SystemThresholds{}, false, rows.Err()
	}
	var t registry.SystemThresholds
	var cpuPct, mainPct, swapPct, diskPct int
	if err := rows.Scan(&t.MaxProcesses, &cpuPct, &mainPct, &swapPct, &diskPct); err != nil {
		return registry.SystemThresholds{}, false, fmt.Errorf("scan server %s: %w", host, err)
	}
	t.MaxCPU = uint(cpuPct)
	t.MaxMain = uint(mainPct)
	t.MaxSwap = uint(swapPct)
	t.MaxDisk = uint(diskPct)
	return t, true, rows.Err()
}

// DaemonSpecs returns the daemons monitored on the named host, ordered by
// daemon name.
func (s *Store) DaemonSpecs(ctx context.Context, host string) ([]registry.ProcessSpec, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.daemon, d.delay,
		       d.min_processes, d.max_processes,
		       d.min_image, d.max_image,
		       d.min_resident, d.max_resident,
		       d.owner, d.script
		FROM   application_server_detail d
		JOIN   application_server aps ON aps.id = d.application_server_id
		JOIN   server s ON s.id = aps.server_id
		WHERE  s.name = $1
		ORDER  BY d.daemon`, host)
	if err != nil {
		return nil, fmt.Errorf("query daemons for %s: %w", host, err)
	}
	defer rows.Close()

	var specs []registry.ProcessSpec
	for rows.Next() {
		var spec registry.ProcessSpec
		var id int64
		var owner, script *string
		err := rows.Scan(
			&id, &spec.Name, &spec.Delay,
			&spec.MinProcesses, &spec.MaxProcesses,
			&spec.MinImageKB, &spec.MaxImageKB,
			&spec.MinResidentKB, &spec.MaxResidentKB,
			&owner, &script,
		)
		if err != nil {
			return nil, fmt.Errorf("scan daemon: %w", err)
		}
		spec.CatalogID = strconv.FormatInt(id, 10)
		if owner != nil {
			spec.Owner = *owner
		}
		if script != nil {
			spec.Script = *script
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// ApplicationContacts returns the contacts for a daemon catalog row. A
// per-row contact override list, when present, replaces the application's
// developer and primary contacts.
func (s *Store) ApplicationContacts(ctx context.Context, catalogID string) ([]Contact, error) {
	id, err := strconv.ParseInt(catalogID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("catalog id %q: %w", catalogID, err)
	}

	contacts, err := s.queryContacts(ctx, `
		SELECT p.email, p.userid, p.pager
		FROM   application_server_contact asc_
		JOIN   person p ON p.id = asc_.contact_id
		WHERE  asc_.application_server_detail_id = $1
		ORDER  BY p.userid`, id)
	if err != nil {
		return nil, fmt.Errorf("query detail contacts %d: %w", id, err)
	}
	if len(contacts) > 0 {
		return contacts, nil
	}

	contacts, err = s.queryContacts(ctx, `
		SELECT p.email, p.userid, p.pager
		FROM   application_contact ac
		JOIN   person p ON p.id = ac.contact_id
		JOIN   application_server aps ON aps.application_id = ac.application_id
		JOIN   application_server_detail d ON d.application_server_id = aps.id
		WHERE  d.id = $1
		AND    ac.type IN ('Primary Developer', 'Backup Developer', 'Primary Contact')
		ORDER  BY p.userid`, id)
	if err != nil {
		return nil, fmt.Errorf("query application contacts %d: %w", id, err)
	}
	return contacts, nil
}

// ServerContacts returns the admin contacts for the named host that have
// notification enabled.
func (s *Store) ServerContacts(ctx context.Context, host string) ([]Contact, error) {
	contacts, err := s.queryContacts(ctx, `
		SELECT p.email, p.userid, p.pager
		FROM   server_contact sc
		JOIN   person p ON p.id = sc.contact_id
		JOIN   server s ON s.id = sc.server_id
		WHERE  s.name = $1
		AND    sc.notify
		AND    sc.type IN ('Primary Admin', 'Backup Admin', 'Primary Contact')
		ORDER  BY p.userid`, host)
	if err != nil {
		return nil, fmt.Errorf("query server contacts %s: %w", host, err)
	}
	return contacts, nil
}

// queryContacts runs a three-column (email, userid, pager) contact query.
func (s *Store) queryContacts(ctx context.Context, sql string, args ...any) ([]Contact, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var email *string
		if err := rows.Scan(&email, &c.UserID, &c.Pager); err != nil {
			return nil, err
		}
		if email != nil {
			c.Email = *email
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
