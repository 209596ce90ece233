package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/backup"
)

func sampleDataset() map[string][]backup.Entity {
	return map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alice", "email": "alice@example.com"}},
			{ID: "c-2", Fields: map[string]interface{}{"name": "Bob", "email": "bob@example.com"}},
		},
		"deals": {
			{ID: "d-1", Fields: map[string]interface{}{"title": "Renewal", "value": 1200.0}},
		},
		"notes": {},
	}
}

func TestBuildAndOpenRoundTrip(t *testing.T) {
	algorithms := []CompressionType{
		CompressionTypeNone,
		CompressionTypeGzip,
		CompressionTypeLZ4,
		CompressionTypeZstd,
	}

	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			builder := NewBuilder(algorithm, 0, nil)
			artifact, manifest, err := builder.Build("bkp-20240101-000000-abcd1234", "org-1", sampleDataset())
			require.NoError(t, err)
			require.NotEmpty(t, artifact)

			assert.Equal(t, "org-1", manifest.OrgID)
			assert.Equal(t, algorithm, manifest.Compression)
			assert.Len(t, manifest.Categories, 3)
			assert.Equal(t, 2, manifest.Categories["contacts"].Count)

			reader, err := Open(artifact, nil)
			require.NoError(t, err)

			assert.Equal(t, []string{"contacts", "deals", "notes"}, reader.Categories())

			contacts, err := reader.Category("contacts")
			require.NoError(t, err)
			require.Len(t, contacts, 2)
			assert.Equal(t, "c-1", contacts[0].ID)
			assert.Equal(t, "Alice", contacts[0].Fields["name"])

			notes, err := reader.Category("notes")
			require.NoError(t, err)
			assert.Empty(t, notes)
		})
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	encryptor, err := NewEncryptor(key)
	require.NoError(t, err)

	builder := NewBuilder(CompressionTypeZstd, 3, encryptor)
	artifact, _, err := builder.Build("bkp-20240101-000000-abcd1234", "org-1", sampleDataset())
	require.NoError(t, err)

	// Opening without the key fails: the ciphertext is not a zip.
	_, err = Open(artifact, nil)
	require.Error(t, err)

	// Opening with a different key fails authentication.
	otherKey, err := GenerateKey()
	require.NoError(t, err)
	otherEncryptor, err := NewEncryptor(otherKey)
	require.NoError(t, err)
	_, err = Open(artifact, otherEncryptor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeEncryption))

	reader, err := Open(artifact, encryptor)
	require.NoError(t, err)
	deals, err := reader.Category("deals")
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "Renewal", deals[0].Fields["title"])
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := Open([]byte("not an archive at all"), nil)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeCorruption))
}

func TestCategoryNotFound(t *testing.T) {
	builder := NewBuilder(CompressionTypeGzip, 0, nil)
	artifact, _, err := builder.Build("bkp-20240101-000000-abcd1234", "org-1", sampleDataset())
	require.NoError(t, err)

	reader, err := Open(artifact, nil)
	require.NoError(t, err)

	_, err = reader.Category("invoices")
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeNotFound))
}

func TestCompressionManagerUnsupportedAlgorithm(t *testing.T) {
	cm := NewCompressionManager()

	_, _, err := cm.Compress([]byte("data"), CompressionType("brotli"), 1)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeCompression))

	_, err = cm.Decompress([]byte("data"), CompressionType("brotli"))
	require.Error(t, err)
}

func TestCompressionLevelFallback(t *testing.T) {
	cm := NewCompressionManager()

	// An out-of-range level falls back to the algorithm default instead of
	// failing.
	data := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	compressed, stats, err := cm.Compress(data, CompressionTypeGzip, 99)
	require.NoError(t, err)
	assert.NotEmpty(t, compressed)
	assert.Equal(t, int64(len(data)), stats.OriginalSize)

	round, err := cm.Decompress(compressed, CompressionTypeGzip)
	require.NoError(t, err)
	assert.Equal(t, data, round)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"valid random key", mustKey(t), false},
		{"short key", make([]byte, 16), true},
		{"all zeros", make([]byte, 32), true},
		{"all ones", allOnesKey(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return key
}

func allOnesKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0xFF
	}
	return key
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1 := DeriveKey("correct horse battery staple", salt)
	k2 := DeriveKey("correct horse battery staple", salt)
	k3 := DeriveKey("different password", salt)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 32)
}
