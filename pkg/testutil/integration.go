package testutil

import (
	"os"
	"testing"
)

// Environment variables naming the databases integration tests run against.
const (
	EnvMySQLDSN    = "IPACTABLE_TEST_MYSQL_DSN"
	EnvPostgresDSN = "IPACTABLE_TEST_POSTGRES_DSN"
	EnvMongoURI    = "IPACTABLE_TEST_MONGO_URI"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireEnv returns the value of key or skips the test when it is unset.
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	IntegrationTest(t)
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}
