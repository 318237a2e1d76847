package admin

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/poolparty/ledger/pkg/clickhouse"
	pptesting "github.com/malbeclabs/poolparty/utils/pkg/testing"
)

func tableNames(t *testing.T, client clickhouse.Client, database string) []string {
	t.Helper()
	conn, err := client.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()
	names, err := listNames(t.Context(), conn, `SELECT name FROM system.tables WHERE database = ? ORDER BY name`, database)
	require.NoError(t, err)
	return names
}

func TestPoolParty_Admin_ResetDB(t *testing.T) {
	t.Parallel()

	t.Run("dry run lists without dropping", func(t *testing.T) {
		t.Parallel()
		info := pptesting.NewClientWithInfo(t, sharedDB)
		before := tableNames(t, info.Client, info.Database)
		require.Contains(t, before, "pool_events")

		var out bytes.Buffer
		err := ResetDB(t.Context(), ResetDBConfig{
			Logger:   pptesting.NewLogger(),
			Client:   info.Client,
			Database: info.Database,
			DryRun:   true,
			Out:      &out,
		})
		require.NoError(t, err)
		require.Contains(t, out.String(), "pool_events")
		require.Contains(t, out.String(), "pool_event_counts")
		require.Contains(t, out.String(), "[DRY RUN]")
		require.Equal(t, before, tableNames(t, info.Client, info.Database))
	})

	t.Run("declined confirmation keeps tables", func(t *testing.T) {
		t.Parallel()
		info := pptesting.NewClientWithInfo(t, sharedDB)
		before := tableNames(t, info.Client, info.Database)

		var out bytes.Buffer
		err := ResetDB(t.Context(), ResetDBConfig{
			Logger:   pptesting.NewLogger(),
			Client:   info.Client,
			Database: info.Database,
			In:       strings.NewReader("no\n"),
			Out:      &out,
		})
		require.NoError(t, err)
		require.Contains(t, out.String(), "Operation cancelled")
		require.Equal(t, before, tableNames(t, info.Client, info.Database))
	})

	t.Run("confirmed reset drops everything and migrations rebuild", func(t *testing.T) {
		t.Parallel()
		info := pptesting.NewClientWithInfo(t, sharedDB)

		var out bytes.Buffer
		err := ResetDB(t.Context(), ResetDBConfig{
			Logger:   pptesting.NewLogger(),
			Client:   info.Client,
			Database: info.Database,
			In:       strings.NewReader("YES\n"),
			Out:      &out,
		})
		require.NoError(t, err)
		require.Contains(t, out.String(), "Successfully dropped 2 table(s) and 1 view(s)")
		require.Empty(t, tableNames(t, info.Client, info.Database))

		log := pptesting.NewLogger()
		require.NoError(t, clickhouse.RunMigrations(t.Context(), log, sharedDB.MigrationConfig(info.Database)))
		version, err := clickhouse.Version(t.Context(), log, sharedDB.MigrationConfig(info.Database))
		require.NoError(t, err)
		require.Equal(t, int64(2), version)
	})

	t.Run("empty database", func(t *testing.T) {
		t.Parallel()
		info := pptesting.NewClientWithInfo(t, sharedDB)
		var out bytes.Buffer
		cfg := ResetDBConfig{
			Logger:      pptesting.NewLogger(),
			Client:      info.Client,
			Database:    info.Database,
			SkipConfirm: true,
			Out:         &out,
		}
		require.NoError(t, ResetDB(t.Context(), cfg))
		out.Reset()
		require.NoError(t, ResetDB(t.Context(), cfg))
		require.Contains(t, out.String(), "No tables or views found")
	})

	t.Run("config validation", func(t *testing.T) {
		t.Parallel()
		err := ResetDB(t.Context(), ResetDBConfig{Logger: pptesting.NewLogger()})
		require.EqualError(t, err, "clickhouse client is required")
	})
}
