package cli

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	internaldb "histclean/internal/db"
	"histclean/internal/testutil"
)

var envKeys = []string{
	"HISTCLEAN_DRIVER", "HISTCLEAN_DSN", "HISTCLEAN_LEDGER_PATH", "HISTCLEAN_ARCHIVE",
	"HISTCLEAN_LISTEN_ADDR", "HISTCLEAN_SCHEDULE", "HISTCLEAN_JWT_SECRET",
	"LOG_LEVEL", "ENV", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"KEY_ID", "SECRET", "ENDPOINT", "REGION", "GCS_KEY_FILE",
	"AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY",
	"HISTCLEAN_OIDC_ISSUER_URL", "HISTCLEAN_OIDC_JWKS_URL", "HISTCLEAN_OIDC_AUDIENCE",
	"HISTCLEAN_OIDC_ALLOWED_ISSUERS",
}

// testEnv is an isolated HOME with an application database and a ledger path.
type testEnv struct {
	dir    string
	dsn    string
	ledger string
}

// newTestEnv isolates HOME and the environment so no real config is loaded,
// and creates an application database with the poll tables.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, k := range envKeys {
		t.Setenv(k, "")
	}

	prev := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = prev })

	env := &testEnv{
		dir:    dir,
		dsn:    filepath.Join(dir, "app.sqlite"),
		ledger: filepath.Join(dir, "ledger.sqlite"),
	}
	db := env.openDB(t)
	testutil.CreatePollTables(t, db)
	return env
}

// openDB opens the application database; it is closed when the test ends.
func (e *testEnv) openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := internaldb.OpenSQLite(e.dsn, "write", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedDuplicates gives poll 1 three snapshots, the middle one a duplicate
// of the oldest, and returns their history ids oldest-first.
func (e *testEnv) seedDuplicates(t *testing.T) []int64 {
	t.Helper()
	db := e.openDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testutil.InsertPoll(t, db, 1, "q2")
	return []int64{
		testutil.InsertSnapshot(t, db, testutil.Snapshot{PollID: 1, Question: "q1", Modified: "a", Date: base, Type: "+"}),
		testutil.InsertSnapshot(t, db, testutil.Snapshot{PollID: 1, Question: "q1", Modified: "b", Date: base.Add(time.Hour)}),
		testutil.InsertSnapshot(t, db, testutil.Snapshot{PollID: 1, Question: "q2", Modified: "c", Date: base.Add(2 * time.Hour)}),
	}
}

// run executes the CLI against the environment's databases.
func (e *testEnv) run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e *testEnv) runWithInput(t *testing.T, input string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(append([]string{"--dsn", e.dsn, "--ledger", e.ledger}, args...))
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}
