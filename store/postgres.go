package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relayforge/model"
)

type DB struct {
	Pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS clusters (
			id        BIGSERIAL PRIMARY KEY,
			name      TEXT NOT NULL,
			node_a_id BIGINT,
			node_b_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS nodes (
			id                 BIGSERIAL PRIMARY KEY,
			name               TEXT NOT NULL,
			ip                 TEXT NOT NULL,
			domain             TEXT NOT NULL,
			country_code       TEXT NOT NULL DEFAULT 'UN',
			is_active          BOOLEAN NOT NULL DEFAULT TRUE,
			sni_domain         TEXT NOT NULL DEFAULT '',
			port               INT NOT NULL DEFAULT 443,
			encrypted_password TEXT NOT NULL DEFAULT '',
			cluster_id         BIGINT REFERENCES clusters(id),
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_country ON nodes(country_code);
		CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);

		CREATE TABLE IF NOT EXISTS provision_events (
			id        TEXT PRIMARY KEY,
			run_id    TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			source    TEXT NOT NULL DEFAULT '',
			node      TEXT NOT NULL DEFAULT '',
			category  TEXT NOT NULL DEFAULT '',
			action    TEXT NOT NULL DEFAULT '',
			message   TEXT NOT NULL DEFAULT '',
			metadata  JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_provision_run ON provision_events(run_id, timestamp);
	`)
	return err
}

// CountNodesByCountry returns how many nodes share a country code,
// active or not. Used to derive the next sequence number.
func (db *DB) CountNodesByCountry(ctx context.Context, countryCode string) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM nodes WHERE country_code = $1`, countryCode,
	).Scan(&n)
	return n, err
}

// CreateNodeWithCluster inserts the node and assigns it to a cluster in
// one transaction, so a node is never visible unclustered. The first
// cluster with a free slot (ascending id) gets the node, slot a before
// slot b; with no free slot a fresh cluster is created around it.
// Returns the cluster name and whether the cluster was newly created.
func (db *DB) CreateNodeWithCluster(ctx context.Context, n *model.Node) (string, bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO nodes (name, ip, domain, country_code, is_active, sni_domain, port, encrypted_password)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		n.Name, n.IP, n.Domain, n.CountryCode, n.IsActive, n.SNIDomain, n.Port, n.EncryptedPassword,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return "", false, fmt.Errorf("insert node: %w", err)
	}

	var (
		clusterID   int64
		clusterName string
		nodeAID     *int64
		created     bool
	)
	err = tx.QueryRow(ctx,
		`SELECT id, name, node_a_id FROM clusters
		 WHERE node_a_id IS NULL OR node_b_id IS NULL
		 ORDER BY id ASC LIMIT 1`,
	).Scan(&clusterID, &clusterName, &nodeAID)
	switch {
	case err == nil:
		slot := "node_a_id"
		if nodeAID != nil {
			slot = "node_b_id"
		}
		if _, err := tx.Exec(ctx,
			`UPDATE clusters SET `+slot+` = $1 WHERE id = $2`, n.ID, clusterID,
		); err != nil {
			return "", false, fmt.Errorf("fill cluster slot: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		var total int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM clusters`).Scan(&total); err != nil {
			return "", false, fmt.Errorf("count clusters: %w", err)
		}
		clusterName = fmt.Sprintf("Cluster-%d", total+1)
		if err := tx.QueryRow(ctx,
			`INSERT INTO clusters (name, node_a_id) VALUES ($1, $2) RETURNING id`,
			clusterName, n.ID,
		).Scan(&clusterID); err != nil {
			return "", false, fmt.Errorf("create cluster: %w", err)
		}
		created = true
	default:
		return "", false, fmt.Errorf("find free cluster: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE nodes SET cluster_id = $1 WHERE id = $2`, clusterID, n.ID,
	); err != nil {
		return "", false, fmt.Errorf("link node to cluster: %w", err)
	}
	n.ClusterID = &clusterID

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return clusterName, created, nil
}

// DeactivateNode marks a node inactive and frees its cluster slot.
// Cluster rows are kept; an emptied slot is simply reused by the next
// provisioned node.
func (db *DB) DeactivateNode(ctx context.Context, name string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`UPDATE nodes SET is_active = FALSE, cluster_id = NULL
		 WHERE name = $1 RETURNING id`, name,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deactivate node: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE clusters SET node_a_id = NULL WHERE node_a_id = $1`, id,
	); err != nil {
		return fmt.Errorf("clear cluster slot a: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE clusters SET node_b_id = NULL WHERE node_b_id = $1`, id,
	); err != nil {
		return fmt.Errorf("clear cluster slot b: %w", err)
	}

	return tx.Commit(ctx)
}

// ActiveNodes returns the active fleet in creation order.
func (db *DB) ActiveNodes(ctx context.Context) ([]model.Node, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, name, ip, domain, country_code, is_active, sni_domain, port, encrypted_password, cluster_id, created_at
		 FROM nodes WHERE is_active ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetNodeByName returns a node or nil when absent.
func (db *DB) GetNodeByName(ctx context.Context, name string) (*model.Node, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, name, ip, domain, country_code, is_active, sni_domain, port, encrypted_password, cluster_id, created_at
		 FROM nodes WHERE name = $1 ORDER BY id ASC LIMIT 1`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[0], nil
}

// GetCluster returns a cluster row or nil when absent.
func (db *DB) GetCluster(ctx context.Context, id int64) (*model.Cluster, error) {
	var c model.Cluster
	err := db.Pool.QueryRow(ctx,
		`SELECT id, name, node_a_id, node_b_id FROM clusters WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.NodeAID, &c.NodeBID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanNodes(rows pgx.Rows) ([]model.Node, error) {
	var nodes []model.Node
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.Name, &n.IP, &n.Domain, &n.CountryCode, &n.IsActive,
			&n.SNIDomain, &n.Port, &n.EncryptedPassword, &n.ClusterID, &n.CreatedAt); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Healthy checks the database connection.
func (db *DB) Healthy(ctx context.Context) error {
	var n int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}
