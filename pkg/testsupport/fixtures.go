package testsupport

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-recall-search/recall"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// The path is relative to the test package directory.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadRecalls loads a JSON array of recall records from a fixture file.
func LoadRecalls(t testing.TB, path string) []recall.Record {
	t.Helper()

	var records []recall.Record
	LoadFixtureJSON(t, path, &records)
	for i := range records {
		records[i].Normalize()
	}
	return records
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// NewSQLiteDB opens a private in-memory SQLite database with the recalls
// schema applied. It is closed when the test finishes.
func NewSQLiteDB(t testing.TB) *bun.DB {
	t.Helper()

	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// one connection keeps the in-memory database alive and serializes writes
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		db.Close()
	})

	if err := recall.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

// Seed inserts records into db.
func Seed(t testing.TB, db bun.IDB, records ...recall.Record) {
	t.Helper()

	if len(records) == 0 {
		return
	}
	if _, err := db.NewInsert().Model(&records).Exec(context.Background()); err != nil {
		t.Fatalf("failed to seed recalls: %v", err)
	}
}

// RecallID returns a deterministic UUID whose last group is n, so records
// sort by id in the same order as their numbers.
func RecallID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

// Recall builds a record with sensible defaults for the fields tests rarely
// care about.
func Recall(n int, product string, score float64, date time.Time) recall.Record {
	r := recall.Record{
		ID:           RecallID(n),
		RecallNumber: fmt.Sprintf("R-%06d", n),
		Product:      product,
		Title:        product + " recall",
		Agency:       "CPSC",
		Category:     "juvenile",
		RiskLevel:    recall.RiskHigh,
		Score:        score,
		RecallDate:   date,
		LastUpdated:  date,
	}
	r.Normalize()
	return r
}

// IDs returns the ids of records in order.
func IDs(records []recall.Record) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	return ids
}
