//go:build integration

// Package testdb provides PostgreSQL databases for integration tests.
//
// A database comes from DATABASE_URL when it is set; otherwise a throwaway
// PostgreSQL container is started with testcontainers. Either way the schema
// is brought up to date with the embedded goose migrations.
//
// Basic usage from a package's TestMain:
//
//	func TestMain(m *testing.M) {
//	    os.Exit(testdb.Main(m))
//	}
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.ResetPool(t, db)
//	    ...
//	}
//
// Tests that only need a single connection can use WithTx, which rolls the
// transaction back when the test function returns.
package testdb
