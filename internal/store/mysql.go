package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"api-farm/internal/model"
)

// MySQLStore is the database-backed alternative to FileStore, selected with
// STORE_DRIVER=mysql. Each Put/Delete is a single upsert/delete statement, so
// write-through durability comes from the database itself.
type MySQLStore struct {
	db *sql.DB
}

const mysqlOpTimeout = 5 * time.Second

// OpenMySQL connects, verifies the connection and ensures the schema.
// Any failure here is a startup error for the caller to treat as fatal.
func OpenMySQL(user, pass, host, port, name string) (*MySQLStore, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), mysqlOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username      VARCHAR(191) PRIMARY KEY,
			id            CHAR(36)     NOT NULL,
			password_hash VARCHAR(100) NOT NULL,
			created_at    DATETIME     NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token     CHAR(64)   PRIMARY KEY,
			user_id   CHAR(36)   NOT NULL,
			issued_at DATETIME   NOT NULL,
			revoked   TINYINT(1) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			value          VARCHAR(191) PRIMARY KEY,
			id             CHAR(36)     NOT NULL,
			owner_id       CHAR(36)     NOT NULL,
			endpoint       VARCHAR(255) NOT NULL,
			status         VARCHAR(16)  NOT NULL,
			fail_count     INT          NOT NULL DEFAULT 0,
			cooldown_until DATETIME     NULL,
			last_used_at   DATETIME     NULL,
			created_at     DATETIME     NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Load() (*State, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mysqlOpTimeout)
	defer cancel()
	st := &State{}

	rows, err := s.db.QueryContext(ctx, "SELECT id, username, password_hash, created_at FROM users")
	if err != nil {
		return nil, fmt.Errorf("%w: load users: %v", ErrCorrupt, err)
	}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan user: %v", ErrCorrupt, err)
		}
		st.Users = append(st.Users, u)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT token, user_id, issued_at, revoked FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("%w: load sessions: %v", ErrCorrupt, err)
	}
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.Token, &sess.UserID, &sess.IssuedAt, &sess.Revoked); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan session: %v", ErrCorrupt, err)
		}
		st.Sessions = append(st.Sessions, sess)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		"SELECT id, owner_id, value, endpoint, status, fail_count, cooldown_until, last_used_at, created_at FROM credentials ORDER BY created_at, value")
	if err != nil {
		return nil, fmt.Errorf("%w: load credentials: %v", ErrCorrupt, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c        model.Credential
			cooldown sql.NullTime
			lastUsed sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Value, &c.Endpoint, &c.Status,
			&c.FailCount, &cooldown, &lastUsed, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan credential: %v", ErrCorrupt, err)
		}
		if cooldown.Valid {
			c.CooldownUntil = cooldown.Time
		}
		if lastUsed.Valid {
			c.LastUsedAt = lastUsed.Time
		}
		st.Credentials = append(st.Credentials, c)
	}
	return st, rows.Err()
}

func (s *MySQLStore) PutUser(u model.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), mysqlOpTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, id, password_hash, created_at) VALUES (?,?,?,?)
		 ON DUPLICATE KEY UPDATE id=VALUES(id), password_hash=VALUES(password_hash), created_at=VALUES(created_at)`,
		u.Username, u.ID, u.PasswordHash, u.CreatedAt.UTC())
	return err
}

func (s *MySQLStore) PutSession(sess model.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), mysqlOpTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, issued_at, revoked) VALUES (?,?,?,?)
		 ON DUPLICATE KEY UPDATE revoked=VALUES(revoked)`,
		sess.Token, sess.UserID, sess.IssuedAt.UTC(), sess.Revoked)
	return err
}

func (s *MySQLStore) PutCredential(c model.Credential) error {
	ctx, cancel := context.WithTimeout(context.Background(), mysqlOpTimeout)
	defer cancel()
	var cooldown, lastUsed sql.NullTime
	if !c.CooldownUntil.IsZero() {
		cooldown = sql.NullTime{Time: c.CooldownUntil.UTC(), Valid: true}
	}
	if !c.LastUsedAt.IsZero() {
		lastUsed = sql.NullTime{Time: c.LastUsedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (value, id, owner_id, endpoint, status, fail_count, cooldown_until, last_used_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE status=VALUES(status), fail_count=VALUES(fail_count),
			cooldown_until=VALUES(cooldown_until), last_used_at=VALUES(last_used_at)`,
		c.Value, c.ID, c.OwnerID, c.Endpoint, c.Status, c.FailCount, cooldown, lastUsed, c.CreatedAt.UTC())
	return err
}

func (s *MySQLStore) DeleteCredential(value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mysqlOpTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE value=?", value)
	return err
}

func (s *MySQLStore) Close() error { return s.db.Close() }
