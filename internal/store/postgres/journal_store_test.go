package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

func TestListByOwnerQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		contains []string
		args     int
	}{
		{name: "owner only", opts: domain.ListOpts{}, contains: []string{"owner = $1", "ORDER BY created_at DESC"}, args: 1},
		{name: "since and limit", opts: domain.ListOpts{Since: &since, Limit: 10}, contains: []string{"created_at >= $2", "LIMIT $3"}, args: 3},
		{name: "offset without limit", opts: domain.ListOpts{Offset: 5}, contains: []string{"OFFSET $2"}, args: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listByOwnerQuery("0xABCDEF", tt.opts)
			for _, c := range tt.contains {
				assert.Contains(t, q, c)
			}
			assert.Len(t, args, tt.args)
			assert.Equal(t, "0xabcdef", args[0])
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/vs?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "vs"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss@db:6432/vs?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p@ss", Host: "db", Port: 6432, Database: "vs", SSLMode: "require"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_tx_journal.sql")
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS tx_journal"))

	names, err := migrationFiles()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_tx_journal.sql"}, names)
}
