package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Pool carries the connection pool tuning, sourced from configuration
// rather than baked in: authority nodes and small channel nodes run
// with very different connection budgets.
type Pool struct {
	MaxConns     int
	ConnLifetime time.Duration
}

// Open connects to MySQL and verifies the connection.  The allocation
// core persists seats, bookings, conflicts and archived mutations here;
// the in-memory ledger stays authoritative and the database is a
// write-through journal plus warm-restart source.
func Open(user, pass, host, port, name string, pool Pool) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	cfg.ParseTime = true // DATETIME scans into time.Time
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(pool.MaxConns)
	db.SetConnMaxLifetime(pool.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
