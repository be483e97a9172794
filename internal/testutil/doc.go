// Package testutil provides deterministic data generators for tests.
package testutil
