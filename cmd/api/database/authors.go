package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/library-service/cmd/api/library"
)

/* Extracts the postgres error code from a wrapped driver error, if any. */
func pqErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

/* Stores the author into the database and returns it with its generated ID. */
func (store *Store) CreateAuthor(ctx context.Context, authorEntry library.Author) (library.Author, error) {
	sqlStatement := `
	INSERT INTO authors (name, bio, created_at)
	VALUES ($1, $2, $3)
	RETURNING id, name, bio, created_at`
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, authorEntry.Name, authorEntry.Bio, authorEntry.CreatedAt)
	var authorToReturn library.Author
	err := createdRow.Scan(&authorToReturn.ID, &authorToReturn.Name, &authorToReturn.Bio, &authorToReturn.CreatedAt)
	if err != nil {
		return library.Author{}, fmt.Errorf("storing author on db: %w", err)
	}

	return authorToReturn, nil
}

/* Searches an author in database based on ID and returns it if succeed. */
func (store *Store) GetAuthorByID(ctx context.Context, id int64) (library.Author, error) {
	sqlStatement := `SELECT id, name, bio, created_at
	FROM authors
	WHERE id=$1;`
	foundRow := store.exc.QueryRowContext(ctx, sqlStatement, id)
	var authorToReturn library.Author
	err := foundRow.Scan(&authorToReturn.ID, &authorToReturn.Name, &authorToReturn.Bio, &authorToReturn.CreatedAt)
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return library.Author{}, fmt.Errorf("searching author by ID: %w", library.ErrResponseAuthorNotFound)
		default:
			return library.Author{}, fmt.Errorf("searching author by ID: %w", err)
		}
	}

	return authorToReturn, nil
}

// GetAuthorWithBooks fetches the author and every book it owns in a single
// joined query, with the availability of each book derived from the open
// loan existence check.
func (store *Store) GetAuthorWithBooks(ctx context.Context, id int64) (library.Author, error) {
	sqlStatement := `SELECT a.id, a.name, a.bio, a.created_at,
		b.id, b.title, b.genre, b.isbn, b.author_id, b.created_at, b.updated_at,
		NOT EXISTS (SELECT 1 FROM loans l WHERE l.book_id = b.id AND l.returned_at IS NULL)
	FROM authors a
	LEFT JOIN books b ON b.author_id = a.id
	WHERE a.id = $1
	ORDER BY b.id ASC;`

	rows, err := store.exc.QueryContext(ctx, sqlStatement, id)
	if err != nil {
		return library.Author{}, fmt.Errorf("searching author with books: %w", err)
	}
	defer rows.Close()

	var authorToReturn library.Author
	found := false
	for rows.Next() {
		var bookID sql.NullInt64
		var title, genre, isbn sql.NullString
		var bookAuthorID sql.NullInt64
		var createdAt, updatedAt sql.NullTime
		var available sql.NullBool

		err = rows.Scan(&authorToReturn.ID, &authorToReturn.Name, &authorToReturn.Bio, &authorToReturn.CreatedAt,
			&bookID, &title, &genre, &isbn, &bookAuthorID, &createdAt, &updatedAt, &available)
		if err != nil {
			return library.Author{}, fmt.Errorf("searching author with books: %w", err)
		}
		found = true

		if bookID.Valid {
			authorToReturn.Books = append(authorToReturn.Books, library.Book{
				ID:        bookID.Int64,
				Title:     title.String,
				Genre:     genre.String,
				ISBN:      isbn.String,
				AuthorID:  bookAuthorID.Int64,
				Available: available.Bool,
				CreatedAt: createdAt.Time,
				UpdatedAt: updatedAt.Time,
			})
		}
	}

	err = rows.Err()
	if err != nil {
		return library.Author{}, fmt.Errorf("searching author with books: %w", err)
	}
	if !found {
		return library.Author{}, fmt.Errorf("searching author with books: %w", library.ErrResponseAuthorNotFound)
	}

	return authorToReturn, nil
}

/* Returns the stored authors ordered by ID, paginated by offset and limit. */
func (store *Store) ListAuthors(ctx context.Context, skip, limit int) ([]library.Author, error) {
	sqlStatement := `SELECT id, name, bio, created_at
	FROM authors
	ORDER BY id ASC
	LIMIT $1 OFFSET $2;`

	rows, err := store.exc.QueryContext(ctx, sqlStatement, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", err)
	}
	defer rows.Close()

	authorsList := []library.Author{}
	var authorToReturn library.Author
	for rows.Next() {
		err = rows.Scan(&authorToReturn.ID, &authorToReturn.Name, &authorToReturn.Bio, &authorToReturn.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("listing authors from db: %w", err)
		}

		authorsList = append(authorsList, authorToReturn)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", err)
	}

	return authorsList, nil
}

/* Removes every loan belonging to the author's books. First step of the cascade. */
func (store *Store) DeleteAuthorLoans(ctx context.Context, authorID int64) error {
	sqlStatement := `
	DELETE FROM loans
	WHERE book_id IN (SELECT id FROM books WHERE author_id = $1);`
	_, err := store.exc.ExecContext(ctx, sqlStatement, authorID)
	if err != nil {
		return fmt.Errorf("deleting author loans from db: %w", err)
	}
	return nil
}

/* Removes every book owned by the author. Second step of the cascade. */
func (store *Store) DeleteAuthorBooks(ctx context.Context, authorID int64) error {
	sqlStatement := `
	DELETE FROM books
	WHERE author_id = $1;`
	_, err := store.exc.ExecContext(ctx, sqlStatement, authorID)
	if err != nil {
		return fmt.Errorf("deleting author books from db: %w", err)
	}
	return nil
}

/* Removes the author row itself. Last step of the cascade. */
func (store *Store) DeleteAuthor(ctx context.Context, id int64) error {
	sqlStatement := `
	DELETE FROM authors
	WHERE id = $1;`
	res, err := store.exc.ExecContext(ctx, sqlStatement, id)
	if err != nil {
		return fmt.Errorf("deleting author from db: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting author from db: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("deleting author from db: %w", library.ErrResponseAuthorNotFound)
	}
	return nil
}
