package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestStore creates an encrypted store in a temp directory for testing.
func newTestStore(t *testing.T) (*EncryptedStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	s, err := NewEncryptedStore(dataDir, key, time.UTC)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s, dataDir
}
