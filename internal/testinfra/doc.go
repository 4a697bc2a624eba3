
// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to manage Docker containers for integration tests,
// providing realistic testing environments that closely match production.
//
// # Postgres Container
//
// The PostgresContainer provides a real Postgres instance, migrated with the
// orchestrator's goose migrations (internal/store/migrations), for testing
// the scheduler, gate, and store packages against real SELECT ... FOR UPDATE
// SKIP LOCKED semantics that sqlmock cannot faithfully emulate:
//
//	func TestClaimScheduler(t *testing.T) {
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer pg.Terminate(ctx)
//
//	    pool, err := pgxpool.New(ctx, pg.ConnString)
//	    // ...
//	}
//
// # Benefits Over Mocks
//
// Using a real container provides several advantages over go-sqlmock for the
// claim scheduler specifically:
//   - Tests validate actual lock contention and SKIP LOCKED behavior
//   - No mock drift (hand-written row fixtures getting out of sync with the schema)
//   - Tests run against the same Postgres major version as production
//
// go-sqlmock remains the right tool for unit-level tests of query construction
// and error-path handling elsewhere in internal/store; this package is for the
// smaller set of tests that need genuine concurrent transaction behavior.
//
// # CI Considerations
//
// These tests require Docker and network access. In CI:
//   - Self-hosted runners have Docker pre-installed
//   - Container images are cached between runs
//   - SkipIfNoDocker lets a test skip itself when Docker is unavailable; the
//     store and scheduler integration tests do not call it and fail instead
//
// # Network Requirements
//
// First run may need to download container images. Subsequent runs use cached images.
package testinfra
