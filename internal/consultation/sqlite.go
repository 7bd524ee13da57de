package consultation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/directline-io/directline/pkg/protocol"
)

// MemoryDSN is a shared in-memory database that lives as long as the process.
const MemoryDSN = "file:directline?mode=memory&cache=shared"

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = MemoryDSN
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("consultation store: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("consultation store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS consultations (
			id             TEXT PRIMARY KEY,
			category       TEXT NOT NULL,
			status         TEXT NOT NULL,
			client_id      TEXT NOT NULL,
			client         TEXT NOT NULL,
			agent_id       TEXT NOT NULL DEFAULT '',
			agent          TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL DEFAULT '',
			feedback       TEXT NOT NULL DEFAULT '',
			rating         INTEGER NOT NULL DEFAULT 0,
			close_reason   TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			closed_at      TEXT
		);

		CREATE TABLE IF NOT EXISTS consultation_messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			consultation_id TEXT NOT NULL REFERENCES consultations(id),
			author          TEXT NOT NULL,
			author_id       TEXT NOT NULL DEFAULT '',
			content         TEXT NOT NULL,
			attachment      TEXT NOT NULL DEFAULT '',
			sent_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consultation_notices (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			consultation_id TEXT NOT NULL REFERENCES consultations(id),
			level           TEXT NOT NULL,
			title           TEXT NOT NULL,
			text            TEXT NOT NULL,
			time            TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_consultation ON consultation_messages(consultation_id);
		CREATE INDEX IF NOT EXISTS idx_notices_consultation ON consultation_notices(consultation_id);
		CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations(status);
		CREATE INDEX IF NOT EXISTS idx_consultations_client ON consultations(client_id);
		CREATE INDEX IF NOT EXISTS idx_consultations_agent ON consultations(agent_id);
	`)
	if err != nil {
		return fmt.Errorf("consultation store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(c *protocol.Consultation) error {
	client, _ := json.Marshal(c.Client)
	var agentID, agent string
	if c.Agent != nil {
		agentID = c.Agent.ID
		b, _ := json.Marshal(c.Agent)
		agent = string(b)
	}
	var classification string
	if c.Classification != nil {
		b, _ := json.Marshal(c.Classification)
		classification = string(b)
	}
	var feedback string
	var rating int
	if c.Feedback != nil {
		b, _ := json.Marshal(c.Feedback)
		feedback = string(b)
		rating = c.Feedback.Rating
	}
	var closedAt *string
	if c.ClosedAt != nil {
		v := formatTime(*c.ClosedAt)
		closedAt = &v
	}

	_, err := s.db.Exec(`
		INSERT INTO consultations (id, category, status, client_id, client, agent_id, agent, classification, feedback, rating, close_reason, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category=excluded.category, status=excluded.status, agent_id=excluded.agent_id, agent=excluded.agent,
			classification=excluded.classification, feedback=excluded.feedback, rating=excluded.rating,
			close_reason=excluded.close_reason, closed_at=excluded.closed_at
	`, c.ID, string(c.Category), string(c.Status), c.Client.ID, string(client), agentID, agent,
		classification, feedback, rating, c.CloseReason, formatTime(c.CreatedAt), closedAt)
	if err != nil {
		return fmt.Errorf("consultation store: save: %w", err)
	}
	return nil
}

const selectColumns = "SELECT id, category, status, client, agent, classification, feedback, close_reason, created_at, closed_at FROM consultations"

func (s *SQLiteStore) Get(id string) (*protocol.Consultation, error) {
	row := s.db.QueryRow(selectColumns+" WHERE id = ?", id)

	c, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("consultation %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("consultation store: get: %w", err)
	}
	if err := s.loadThread(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Consultation, error) {
	where, args := filter.where()
	query := selectColumns + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("consultation store: list: %w", err)
	}

	var out []*protocol.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("consultation store: list scan: %w", err)
		}
		out = append(out, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("consultation store: list: %w", err)
	}

	for _, c := range out {
		if err := s.loadThread(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) Count(filter Filter) (int, error) {
	where, args := filter.where()
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM consultations"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("consultation store: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) AppendMessage(consultationID string, msg protocol.Message) error {
	if err := s.exists(consultationID); err != nil {
		return err
	}
	var attachment string
	if msg.Attachment != nil {
		b, _ := json.Marshal(msg.Attachment)
		attachment = string(b)
	}
	_, err := s.db.Exec(`INSERT INTO consultation_messages (id, consultation_id, author, author_id, content, attachment, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, consultationID, string(msg.Author), msg.AuthorID, msg.Content, attachment, formatTime(msg.SentAt))
	if err != nil {
		return fmt.Errorf("consultation store: append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendNotice(consultationID string, n protocol.Notice) error {
	if err := s.exists(consultationID); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO consultation_notices (consultation_id, level, title, text, time) VALUES (?, ?, ?, ?, ?)`,
		consultationID, string(n.Level), n.Title, n.Text, formatTime(n.Time))
	if err != nil {
		return fmt.Errorf("consultation store: append notice: %w", err)
	}
	return nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers ---

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any

	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.RatedOnly {
		clauses = append(clauses, "rating > 0")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) exists(id string) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM consultations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("consultation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("consultation store: lookup: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadThread(c *protocol.Consultation) error {
	rows, err := s.db.Query(`SELECT id, author, author_id, content, attachment, sent_at FROM consultation_messages WHERE consultation_id = ? ORDER BY seq`, c.ID)
	if err != nil {
		return fmt.Errorf("consultation store: load messages: %w", err)
	}
	c.Messages = []protocol.Message{}
	for rows.Next() {
		var m protocol.Message
		var author, attachment, sentAt string
		if err := rows.Scan(&m.ID, &author, &m.AuthorID, &m.Content, &attachment, &sentAt); err != nil {
			rows.Close()
			return fmt.Errorf("consultation store: scan message: %w", err)
		}
		m.Author = protocol.Author(author)
		m.ConsultationID = c.ID
		m.SentAt = parseTime(sentAt)
		if attachment != "" {
			var a protocol.Attachment
			if json.Unmarshal([]byte(attachment), &a) == nil {
				m.Attachment = &a
			}
		}
		c.Messages = append(c.Messages, m)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("consultation store: load messages: %w", err)
	}

	rows, err = s.db.Query(`SELECT level, title, text, time FROM consultation_notices WHERE consultation_id = ? ORDER BY seq`, c.ID)
	if err != nil {
		return fmt.Errorf("consultation store: load notices: %w", err)
	}
	defer rows.Close()
	c.Notices = []protocol.Notice{}
	for rows.Next() {
		var n protocol.Notice
		var level, ts string
		if err := rows.Scan(&level, &n.Title, &n.Text, &ts); err != nil {
			return fmt.Errorf("consultation store: scan notice: %w", err)
		}
		n.Level = protocol.NoticeLevel(level)
		n.Time = parseTime(ts)
		c.Notices = append(c.Notices, n)
	}
	return rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConsultation(s scannable) (*protocol.Consultation, error) {
	var c protocol.Consultation
	var category, status, clientJSON, agentJSON, classificationJSON, feedbackJSON, createdAt string
	var closedAt *string

	err := s.Scan(&c.ID, &category, &status, &clientJSON, &agentJSON, &classificationJSON,
		&feedbackJSON, &c.CloseReason, &createdAt, &closedAt)
	if err != nil {
		return nil, err
	}

	c.Category = protocol.Category(category)
	c.Status = protocol.Status(status)
	json.Unmarshal([]byte(clientJSON), &c.Client)
	if agentJSON != "" {
		var a protocol.Identity
		if json.Unmarshal([]byte(agentJSON), &a) == nil {
			c.Agent = &a
		}
	}
	if classificationJSON != "" {
		var cl protocol.Classification
		if json.Unmarshal([]byte(classificationJSON), &cl) == nil {
			c.Classification = &cl
		}
	}
	if feedbackJSON != "" {
		var f protocol.Feedback
		if json.Unmarshal([]byte(feedbackJSON), &f) == nil {
			c.Feedback = &f
		}
	}
	c.CreatedAt = parseTime(createdAt)
	if closedAt != nil {
		t := parseTime(*closedAt)
		c.ClosedAt = &t
	}
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
