package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jjudge-oj/authserver/types"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// SQLiteSchema creates the users table when it is missing.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLiteUserRepository stores users in a local SQLite database.
type SQLiteUserRepository struct {
	db *sqlx.DB
}

func NewSQLiteUserRepository(db *sqlx.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	var user types.User
	err := r.db.GetContext(ctx, &user, `
		SELECT id, email, first_name, last_name, role, password_hash, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return user, mapSQLiteGetErr(err)
}

func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	var user types.User
	err := r.db.GetContext(ctx, &user, `
		SELECT id, email, first_name, last_name, role, password_hash, created_at, updated_at
		FROM users WHERE email = $1`, email)
	return user, mapSQLiteGetErr(err)
}

func (r *SQLiteUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (email, first_name, last_name, role, password_hash, created_at, updated_at)
		VALUES (:email, :first_name, :last_name, :role, :password_hash, :created_at, :updated_at)`, user)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return types.User{}, fmt.Errorf("read user id: %w", err)
	}
	user.ID = int(id)
	return user, nil
}

func mapSQLiteGetErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("query user: %w", err)
}
