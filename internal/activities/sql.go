package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/flowforge/engine/internal/execctx"
)

// SQLActivity implements the `sql` node type.
//
// config fields:
//
//	engine:  "postgres" | "mysql" (required)
//	dsn:     full DSN string, OR a "connection_string" secret field, OR
//	         individual host/port/database/user/password fields
//	query:   SQL query string (required)
//	params:  []interface{} query parameters
//	timeout: int seconds (default 30)
type SQLActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *SQLActivity) Name() string { return "sql" }

// Execute runs the configured query and returns its rows as a slice of maps.
func (a *SQLActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	engine, ok := config["engine"].(string)
	if !ok || engine == "" {
		return nil, fmt.Errorf("sql activity: missing required config field 'engine'")
	}
	query, ok := config["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("sql activity: missing required config field 'query'")
	}

	dsn := buildDSN(engine, config)

	timeoutSec := 30
	switch v := config["timeout"].(type) {
	case int:
		timeoutSec = v
	case float64:
		timeoutSec = int(v)
	}

	var params []interface{}
	if p, ok := config["params"].([]interface{}); ok {
		params = p
	}

	var driverName string
	switch engine {
	case "postgres":
		driverName = "postgres"
	case "mysql":
		driverName = "mysql"
	default:
		return nil, fmt.Errorf("sql activity: unsupported engine %q", engine)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql activity: failed to open DB: %w", err)
	}
	defer db.Close()

	deadline := time.Duration(timeoutSec) * time.Second
	queryCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	rows, err := db.QueryxContext(queryCtx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("sql activity: query failed: %w", err)
	}
	defer rows.Close()

	var result []map[string]interface{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("sql activity: failed to scan row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql activity: rows error: %w", err)
	}

	if result == nil {
		result = []map[string]interface{}{}
	}

	return map[string]interface{}{
		"rows":          result,
		"rows_affected": len(result),
	}, nil
}

// buildDSN assembles a driver DSN from explicit fields, preferring an
// explicit "dsn", then a connection_string secret field, then discrete
// host/port/database/user/password fields.
func buildDSN(engine string, config map[string]interface{}) string {
	if dsn, ok := config["dsn"].(string); ok && dsn != "" {
		return dsn
	}
	if dsn, ok := config["connection_string"].(string); ok && dsn != "" {
		return dsn
	}
	host, _ := config["host"].(string)
	port, _ := config["port"].(string)
	database, _ := config["database"].(string)
	user, _ := config["user"].(string)
	password, _ := config["password"].(string)
	if host == "" {
		host = "localhost"
	}
	switch engine {
	case "postgres":
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable", host, port, database, user, password)
	case "mysql":
		if port == "" {
			port = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", user, password, host, port, database)
	}
	return ""
}
