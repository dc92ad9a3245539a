package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"syncboard/internal/models"
	"syncboard/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
)

// Service handles the lifecycle of registered whiteboard users.
type Service struct {
	db *storage.DB
}

func NewService(db *storage.DB) *Service {
	return &Service{db: db}
}

// RegisterUser creates a user with the supplied credentials.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE username = ?`), username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return nil, ErrUsernameTaken
	}

	now := time.Now().UTC()
	id, err := s.insertUser(ctx, username, string(hash), now)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: string(hash), CreatedAt: now}, nil
}

func (s *Service) insertUser(ctx context.Context, username, hash string, now time.Time) (int64, error) {
	// pgx does not implement LastInsertId
	if s.db.Driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id`,
			username, hash, now,
		).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, hash, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	user, err := s.scanUser(s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`), username,
	))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, ErrUserNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`), id,
	))
}

func (s *Service) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user; its tokens cascade.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
