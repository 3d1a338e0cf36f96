//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"resume-billing/internal/config"
	"resume-billing/internal/infra/db/migrations"
)

var testPool *pgxpool.Pool

// TestMain runs against BILLING_TEST_DATABASE_URL when it is set, otherwise
// against a throwaway postgres container started through docker.
func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn := os.Getenv("BILLING_TEST_DATABASE_URL")
	stop := func() {}
	if dsn == "" {
		var err error
		dsn, stop, err = startContainer()
		if err != nil {
			log.Fatalf("start postgres container: %v (is docker running?)", err)
		}
	}

	var err error
	for attempt := 1; attempt <= 15; attempt++ {
		testPool, err = Connect(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 8, ConnectTimeout: 2 * time.Second})
		if err == nil {
			break
		}
		log.Printf("waiting for postgres (%d/15): %v", attempt, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("connect test database: %v", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	if err := migrations.Up(ctx, testPool, &logger); err != nil {
		testPool.Close()
		stop()
		log.Fatalf("apply migrations: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func startContainer() (string, func(), error) {
	const (
		user = "billing"
		pass = "billing"
		db   = "billing_test"
		port = "55432"
	)
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", port+":5432",
		"-e", "POSTGRES_DB="+db,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+pass,
		"postgres:16-alpine",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", nil, err
	}
	id := strings.TrimSpace(out.String())
	stop := func() {
		if err := exec.Command("docker", "stop", id).Run(); err != nil {
			log.Printf("stop container %s: %v", id, err)
		}
	}
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", user, pass, port, db), stop, nil
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE
			plans, plan_pricing, plan_features, subscriptions, payment_transactions,
			feature_usage, user_billing_details, plan_selections, notifications,
			subscription_audit_log
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
