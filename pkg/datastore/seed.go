package datastore

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var demoServices = []string{"api-gateway", "auth-service", "order-service", "payment-service"}
var demoRegions = []string{"us-east", "us-west", "eu-central"}

// SeedDemo populates an empty demo store with synthetic gateway telemetry:
// mostly healthy traffic plus an elevated 5xx rate for the gateway in
// us-east, which is the failure the sample TSG diagnoses.
func SeedDemo(db *sqlx.DB, rows int, start time.Time) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM api_gateway_logs"); err != nil {
		return fmt.Errorf("count demo rows: %w", err)
	}
	if count > 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(start.UnixNano()))
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	stmt := `INSERT INTO api_gateway_logs (ts, region, environment, service_name, status_code, latency_ms, request_id)
	         VALUES (?, ?, ?, ?, ?, ?, ?)`
	for i := 0; i < rows; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		service := demoServices[rng.Intn(len(demoServices))]
		region := demoRegions[rng.Intn(len(demoRegions))]
		status := 200
		latency := 20 + rng.Float64()*80
		if service == "api-gateway" && region == "us-east" && rng.Intn(10) < 4 {
			status = 503
			latency = 900 + rng.Float64()*2000
		}
		if _, err := tx.Exec(stmt,
			ts.UTC().Format("2006-01-02 15:04:05"), region, "production", service,
			status, latency, uuid.NewString()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert demo row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
