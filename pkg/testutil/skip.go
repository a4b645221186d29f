// Package testutil holds helpers shared by package tests.
package testutil

import "testing"

// SkipIfShort skips container-backed tests under go test -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
