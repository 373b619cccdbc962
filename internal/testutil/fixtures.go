package testutil

import (
	"database/sql"
	"testing"
	"time"

	internaldb "histclean/internal/db"
)

// pollsSchema mirrors the tables the history extension creates for a
// "polls.poll" model in SQLite.
const pollsSchema = `
CREATE TABLE polls_poll (
	id       INTEGER PRIMARY KEY,
	question TEXT    NOT NULL,
	votes    INTEGER NOT NULL DEFAULT 0,
	modified TEXT
);
CREATE TABLE polls_historicalpoll (
	id                    INTEGER NOT NULL,
	question              TEXT    NOT NULL,
	votes                 INTEGER NOT NULL DEFAULT 0,
	modified              TEXT,
	history_id            INTEGER PRIMARY KEY AUTOINCREMENT,
	history_date          datetime NOT NULL,
	history_change_reason TEXT,
	history_type          TEXT    NOT NULL,
	history_user_id       INTEGER
);
CREATE TABLE polls_choice (
	id   INTEGER PRIMARY KEY,
	text TEXT NOT NULL
);`

var sqliteDialect = internaldb.Dialect{Driver: internaldb.DriverSQLite}

// Snapshot is one row of polls_historicalpoll.
type Snapshot struct {
	PollID   int64
	Question string
	Votes    int64
	Modified string
	Date     time.Time
	Type     string // "+", "~" or "-"; empty means "~"
}

// CreatePollTables creates polls_poll, its history table, and an untracked
// polls_choice table.
func CreatePollTables(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.Exec(pollsSchema); err != nil {
		t.Fatalf("create poll tables: %v", err)
	}
}

// InsertPoll inserts a live polls_poll row.
func InsertPoll(t *testing.T, db *sql.DB, id int64, question string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO polls_poll (id, question) VALUES (?, ?)`, id, question); err != nil {
		t.Fatalf("insert poll: %v", err)
	}
}

// InsertSnapshot inserts a history row and returns its history_id.
func InsertSnapshot(t *testing.T, db *sql.DB, s Snapshot) int64 {
	t.Helper()
	if s.Type == "" {
		s.Type = "~"
	}
	res, err := db.Exec(`INSERT INTO polls_historicalpoll
		(id, question, votes, modified, history_date, history_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.PollID, s.Question, s.Votes, s.Modified, sqliteDialect.TimeArg(s.Date), s.Type)
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("snapshot id: %v", err)
	}
	return id
}

// HistoryIDs returns the remaining history ids of a poll, newest-first.
func HistoryIDs(t *testing.T, db *sql.DB, pollID int64) []int64 {
	t.Helper()
	rows, err := db.Query(`SELECT history_id FROM polls_historicalpoll
		WHERE id = ? ORDER BY history_date DESC, history_id DESC`, pollID)
	if err != nil {
		t.Fatalf("query history ids: %v", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan history id: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate history ids: %v", err)
	}
	return ids
}
