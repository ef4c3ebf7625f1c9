package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/artista/market-ledger/internal/domain"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	// Connect to the database
	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		if pgContainer != nil {
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
		}
		os.Exit(1)
	}

	// Initialize the database schema
	if err := Migrate(testDB); err != nil {
		fmt.Printf("Failed to migrate database: %v\n", err)
		if pgContainer != nil {
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
		}
		os.Exit(1)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}

	os.Exit(code)
}

// initTestTx starts a transaction rolled back after the test, so each
// test sees an empty log
func initTestTx(t *testing.T) *gorm.DB {
	if testDB == nil {
		t.Fatal("Test database not initialized")
	}

	tx := testDB.Begin()
	require.NotNil(t, tx)
	require.NoError(t, tx.Error)

	t.Cleanup(func() {
		tx.Rollback()
	})

	return tx
}

func testEvent(block uint64, seq uint32, kind domain.EventKind, id domain.TokenID) domain.Event {
	owner := domain.Identity{0xaa}
	event := domain.Event{
		Ordinal:   domain.Ordinal{Block: block, Seq: seq},
		Kind:      kind,
		TokenID:   id,
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	switch kind {
	case domain.EventMinted:
		event.To = domain.IdentityPtr(owner)
		event.MetadataRef = domain.MetadataRefPtr("sha256:deadbeef")
	case domain.EventListingCreated:
		event.Seller = domain.IdentityPtr(owner)
		event.Price = domain.AmountPtr(100)
		event.Fee = domain.AmountPtr(25)
	case domain.EventItemBought:
		event.Seller = domain.IdentityPtr(owner)
		event.Buyer = domain.IdentityPtr(domain.Identity{0xbb})
		event.Price = domain.AmountPtr(100)
	}
	return event
}

func TestAppendAndScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := NewPGEventLog(initTestTx(t))

	want := []domain.Event{
		testEvent(1, 0, domain.EventMinted, 7),
		testEvent(2, 0, domain.EventListingCreated, 7),
		testEvent(3, 0, domain.EventItemBought, 7),
	}
	require.NoError(t, log.Append(ctx, want...))

	var got []domain.Event
	require.NoError(t, log.ScanFrom(ctx, domain.Ordinal{}, func(e domain.Event) error {
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Ordinal, got[i].Ordinal)
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.Equal(t, want[i].TokenID, got[i].TokenID)
		assert.Equal(t, want[i].Seller, got[i].Seller)
		assert.Equal(t, want[i].Buyer, got[i].Buyer)
		assert.Equal(t, want[i].Price, got[i].Price)
		assert.Equal(t, want[i].Fee, got[i].Fee)
		assert.Equal(t, want[i].MetadataRef, got[i].MetadataRef)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
	}
}

func TestScanFromSkipsEarlierOrdinals(t *testing.T) {
	ctx := context.Background()
	log := NewPGEventLog(initTestTx(t))

	require.NoError(t, log.Append(ctx,
		testEvent(1, 0, domain.EventMinted, 1),
		testEvent(1, 1, domain.EventMinted, 2),
		testEvent(2, 0, domain.EventMinted, 3),
		testEvent(3, 0, domain.EventMinted, 4),
	))

	var got []domain.Ordinal
	require.NoError(t, log.ScanFrom(ctx, domain.Ordinal{Block: 1, Seq: 1}, func(e domain.Event) error {
		got = append(got, e.Ordinal)
		return nil
	}))

	assert.Equal(t, []domain.Ordinal{
		{Block: 1, Seq: 1},
		{Block: 2, Seq: 0},
		{Block: 3, Seq: 0},
	}, got)
}

func TestScanStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	log := NewPGEventLog(initTestTx(t))

	require.NoError(t, log.Append(ctx,
		testEvent(1, 0, domain.EventMinted, 1),
		testEvent(2, 0, domain.EventMinted, 2),
	))

	seen := 0
	wantErr := fmt.Errorf("stop here")
	err := log.ScanFrom(ctx, domain.Ordinal{}, func(e domain.Event) error {
		seen++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, seen)
}

func TestAppendRejectsDuplicateOrdinal(t *testing.T) {
	ctx := context.Background()
	log := NewPGEventLog(initTestTx(t))

	require.NoError(t, log.Append(ctx, testEvent(5, 0, domain.EventMinted, 1)))
	assert.Error(t, log.Append(ctx, testEvent(5, 0, domain.EventMinted, 2)))
}

func TestAppendEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	log := NewPGEventLog(initTestTx(t))

	require.NoError(t, log.Append(ctx))

	count := 0
	require.NoError(t, log.ScanFrom(ctx, domain.Ordinal{}, func(domain.Event) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}

func TestCursorStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cursors := NewPGCursorStore(initTestTx(t))

	// Unset cursor reads as the zero ordinal
	got, err := cursors.GetViewCursor(ctx, "all_listings")
	require.NoError(t, err)
	assert.Equal(t, domain.Ordinal{}, got)

	want := domain.Ordinal{Block: 42, Seq: 3}
	require.NoError(t, cursors.SetViewCursor(ctx, "all_listings", want))

	got, err = cursors.GetViewCursor(ctx, "all_listings")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Overwrite advances the cursor in place
	want = domain.Ordinal{Block: 50, Seq: 0}
	require.NoError(t, cursors.SetViewCursor(ctx, "all_listings", want))

	got, err = cursors.GetViewCursor(ctx, "all_listings")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCursorStoreIsolatesViews(t *testing.T) {
	ctx := context.Background()
	cursors := NewPGCursorStore(initTestTx(t))

	require.NoError(t, cursors.SetViewCursor(ctx, "all_listings", domain.Ordinal{Block: 10}))
	require.NoError(t, cursors.SetViewCursor(ctx, "bought_by_me", domain.Ordinal{Block: 20}))

	got, err := cursors.GetViewCursor(ctx, "all_listings")
	require.NoError(t, err)
	assert.Equal(t, domain.Ordinal{Block: 10}, got)

	got, err = cursors.GetViewCursor(ctx, "bought_by_me")
	require.NoError(t, err)
	assert.Equal(t, domain.Ordinal{Block: 20}, got)
}

func TestParseCursorRejectsMalformedValues(t *testing.T) {
	for _, value := range []string{"", "42", "a:b", "42:", ":3", "42:3:9x"} {
		_, err := parseCursor(value)
		assert.Error(t, err, "value %q", value)
	}
}
