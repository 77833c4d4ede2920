package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is the public view of an account.
type User struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UserDetail nests the user's reviews, newest first.
type UserDetail struct {
	User
	Reviews []UserReview `json:"reviews"`
}

// UserReview is a review as listed under its author.
type UserReview struct {
	ID        int64     `json:"id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Album     AlbumRef  `json:"album"`
}

// NewUser carries registration data. PasswordHash must already be hashed.
type NewUser struct {
	FirstName    string
	LastName     string
	Username     string
	PasswordHash []byte
}

const (
	userByIDQuery = `
		SELECT id, first_name, last_name, username, created_at
		FROM users
		WHERE id = $1
	`

	userReviewsQuery = `
		SELECT r.id, r.rating, r.comment, r.created_at, r.updated_at,
			a.id, a.title, a.artist
		FROM reviews r
		JOIN albums a ON a.id = r.album_id
		WHERE r.user_id = $1
		ORDER BY r.created_at DESC, r.id DESC
	`
)

// CreateUser registers a new account and returns it.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(in.PasswordHash) == 0 {
		return User{}, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	u := User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Username:  username,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (first_name, last_name, username, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, u.FirstName, u.LastName, u.Username, in.PasswordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, storageErr("insert user", err)
	}

	return u, nil
}

// Credentials returns the user id and password hash for username.
func (s *Store) Credentials(ctx context.Context, username string) (int64, []byte, error) {
	var (
		userID int64
		hash   []byte
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash
		FROM users
		WHERE username = $1
	`, strings.TrimSpace(username)).Scan(&userID, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, fmt.Errorf("%w: user %q", ErrNotFound, username)
		}
		return 0, nil, storageErr("lookup user", err)
	}

	return userID, hash, nil
}

// UserByID returns the public view of a user.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return userByID(ctx, s.db, id)
}

// UserWithReviews returns the user and their reviews with album identity.
// A user with no reviews yields an empty list.
func (s *Store) UserWithReviews(ctx context.Context, id int64) (UserDetail, error) {
	u, err := userByID(ctx, s.db, id)
	if err != nil {
		return UserDetail{}, err
	}

	rows, err := s.db.QueryContext(ctx, userReviewsQuery, id)
	if err != nil {
		return UserDetail{}, storageErr("select user reviews", err)
	}
	defer rows.Close()

	detail := UserDetail{User: u, Reviews: make([]UserReview, 0)}
	for rows.Next() {
		var r UserReview
		if err := rows.Scan(
			&r.ID,
			&r.Rating,
			&r.Comment,
			&r.CreatedAt,
			&r.UpdatedAt,
			&r.Album.ID,
			&r.Album.Title,
			&r.Album.Artist,
		); err != nil {
			return UserDetail{}, storageErr("scan user review", err)
		}
		detail.Reviews = append(detail.Reviews, r)
	}
	if err := rows.Err(); err != nil {
		return UserDetail{}, storageErr("iterate user reviews", err)
	}

	return detail, nil
}

func userByID(ctx context.Context, q Queryer, id int64) (User, error) {
	var u User
	err := q.QueryRowContext(ctx, userByIDQuery, id).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return User{}, storageErr("select user", err)
	}
	return u, nil
}
