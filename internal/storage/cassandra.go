package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
)

// CassandraConfig holds the connection settings for a Cassandra cluster.
type CassandraConfig struct {
	Hosts    []string
	Port     int
	Username string
	Password string
	// CAPath enables TLS with host verification when set.
	CAPath  string
	Timeout time.Duration
}

// CassandraSession implements Session on top of a gocql session.
type CassandraSession struct {
	session *gocql.Session
}

var _ Session = (*CassandraSession)(nil)

// NewCassandraSession connects to the cluster described by cfg.
func NewCassandraSession(cfg CassandraConfig) (*CassandraSession, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("cassandra: no hosts configured")
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	cluster.Consistency = gocql.LocalOne
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 cfg.CAPath,
			EnableHostVerification: true,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	return &CassandraSession{session: session}, nil
}

// Exec runs stmt without expecting rows.
func (c *CassandraSession) Exec(ctx context.Context, stmt string) error {
	return c.session.Query(stmt).WithContext(ctx).Exec()
}

// Query runs stmt and materializes all rows.
func (c *CassandraSession) Query(ctx context.Context, stmt string) ([]Row, error) {
	iter := c.session.Query(stmt).WithContext(ctx).Iter()
	maps, err := iter.SliceMap()
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(maps))
	for _, m := range maps {
		rows = append(rows, Row(m))
	}
	return rows, nil
}

// Close closes the underlying gocql session.
func (c *CassandraSession) Close() {
	c.session.Close()
}
