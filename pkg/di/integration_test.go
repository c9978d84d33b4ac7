package di

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/bunexec"
)

// User is the row shape seeded into the integration database.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID    string `bun:"id,pk"`
	Name  string `bun:"name"`
	Email string `bun:"email"`
}

// Order belongs to a user and is removed with it.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID     string `bun:"id,pk"`
	UserID string `bun:"user_id"`
	Total  int64  `bun:"total"`
}

func newIntegrationDB(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, model := range []any{(*User)(nil), (*Order)(nil)} {
		if _, err := db.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}
	return db
}

func seedUsers(t testing.TB, db *bun.DB, n int) []User {
	t.Helper()

	users := make([]User, n)
	for i := range users {
		users[i] = User{
			ID:    uuid.NewString(),
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
		}
	}
	if _, err := db.NewInsert().Model(&users).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to seed users: %v", err)
	}
	return users
}

func TestEndToEndCachedQueryFlow(t *testing.T) {
	db := newIntegrationDB(t)
	users := seedUsers(t, db, 3)

	container, err := NewContainerWithDefaults(bunexec.New(db))
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	exec := container.Executor()
	ctx := context.Background()

	const byID = "SELECT name FROM users WHERE id = ?"
	const count = "SELECT count(*) FROM users"

	first, err := exec.Read(ctx, byID, users[0].ID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if first.Rows[0][0] != "User 0" {
		t.Errorf("Expected User 0, got %v", first.Rows[0][0])
	}
	exec.Read(ctx, byID, users[0].ID)
	exec.Read(ctx, count)

	stats := exec.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("Expected 1 hit and 2 misses, got %+v", stats)
	}

	if _, err := exec.Write(ctx, "UPDATE users SET name = ? WHERE id = ?", "Renamed", users[0].ID); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	after, err := exec.Read(ctx, byID, users[0].ID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if after.Rows[0][0] != "Renamed" {
		t.Errorf("Expected fresh name after write, got %v", after.Rows[0][0])
	}

	if _, err := exec.Write(ctx, "INSERT INTO users (id, name, email) VALUES (?, ?, ?)", uuid.NewString(), "New", "new@example.com"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	total, err := exec.Read(ctx, count)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if total.Rows[0][0] != int64(4) {
		t.Errorf("Expected count 4 after insert, got %v", total.Rows[0][0])
	}
}

func TestJoinReadInvalidatedByEitherTable(t *testing.T) {
	db := newIntegrationDB(t)
	users := seedUsers(t, db, 1)
	ctx := context.Background()

	container, err := NewContainerWithDefaults(bunexec.New(db))
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	exec := container.Executor()

	const totals = "SELECT u.name, coalesce(sum(o.total), 0) FROM users u LEFT JOIN orders o ON o.user_id = u.id GROUP BY u.name"
	const byUser = "SELECT name FROM users WHERE id = ?"

	exec.Read(ctx, totals)
	exec.Read(ctx, byUser, users[0].ID)

	if _, err := exec.Write(ctx, "INSERT INTO orders (id, user_id, total) VALUES (?, ?, ?)", uuid.NewString(), users[0].ID, 42); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	rows, err := exec.Read(ctx, totals)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows.Rows[0][1] != int64(42) {
		t.Errorf("Expected join read to see the new order, got %v", rows.Rows[0][1])
	}

	exec.Read(ctx, byUser, users[0].ID)
	if exec.Stats().Hits != 1 {
		t.Errorf("Expected the users-only read to stay cached, got %+v", exec.Stats())
	}
}

func TestCascadeInvalidationFlow(t *testing.T) {
	db := newIntegrationDB(t)
	users := seedUsers(t, db, 1)
	ctx := context.Background()

	config := cache.DefaultConfig()
	config.Cascades = map[string][]string{"users": {"orders"}}
	container, err := NewContainer(bunexec.New(db), config)
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	exec := container.Executor()

	const orders = "SELECT count(*) FROM orders"
	exec.Read(ctx, orders)

	// Deleting a user would cascade to orders through a foreign key.
	if _, err := exec.Write(ctx, "DELETE FROM users WHERE id = ?", users[0].ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exec.Read(ctx, orders)

	if exec.Stats().Misses != 2 {
		t.Errorf("Expected the orders read to be invalidated by the cascade, got %+v", exec.Stats())
	}
}

func TestCacheEvictionFlow(t *testing.T) {
	db := newIntegrationDB(t)
	users := seedUsers(t, db, 5)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	config := cache.DefaultConfig()
	config.MaxEntries = 3
	config.DefaultTTL = 10 * time.Second
	config.Clock = clock
	container, err := NewContainer(bunexec.New(db), config)
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	exec := container.Executor()

	for _, u := range users {
		if _, err := exec.Read(ctx, "SELECT * FROM users WHERE id = ?", u.ID); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}
	if exec.Size() != 3 {
		t.Errorf("Expected cache to hold 3 entries, got %d", exec.Size())
	}
	if exec.Stats().Evictions != 2 {
		t.Errorf("Expected 2 capacity evictions, got %d", exec.Stats().Evictions)
	}

	clock.Advance(11 * time.Second)
	if n := exec.Sweep(); n != 3 {
		t.Errorf("Expected 3 expired entries, got %d", n)
	}
}

func TestErrorPropagation(t *testing.T) {
	db := newIntegrationDB(t)
	ctx := context.Background()

	container, err := NewContainerWithDefaults(bunexec.New(db))
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	exec := container.Executor()

	if _, err := exec.Read(ctx, "SELECT * FROM no_such_table"); err == nil {
		t.Error("Expected read error to propagate")
	}
	if _, err := exec.Write(ctx, "UPDATE no_such_table SET x = 1"); err == nil {
		t.Error("Expected write error to propagate")
	}
	if exec.Size() != 0 {
		t.Errorf("Expected nothing cached after errors, got %d", exec.Size())
	}
	if exec.Stats().Invalidations != 0 {
		t.Errorf("Expected no invalidations after a failed write, got %d", exec.Stats().Invalidations)
	}
}
