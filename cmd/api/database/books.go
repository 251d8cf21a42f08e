package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/library-service/cmd/api/library"
)

// Availability is never stored: every book read derives it from the loan
// rows with this existence check, keeping one source of truth.
const bookAvailableExpr = `NOT EXISTS (SELECT 1 FROM loans l WHERE l.book_id = b.id AND l.returned_at IS NULL)`

/* Stores the book into the database and returns it with its generated ID. */
func (store *Store) CreateBook(ctx context.Context, bookEntry library.Book) (library.Book, error) {
	sqlStatement := `
	INSERT INTO books (title, genre, isbn, author_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, title, genre, isbn, author_id, created_at, updated_at`
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, bookEntry.Title, bookEntry.Genre, bookEntry.ISBN, bookEntry.AuthorID, bookEntry.CreatedAt, bookEntry.UpdatedAt)
	var bookToReturn library.Book
	err := createdRow.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Genre, &bookToReturn.ISBN, &bookToReturn.AuthorID, &bookToReturn.CreatedAt, &bookToReturn.UpdatedAt)
	if err != nil {
		switch pqErrorCode(err) {
		case pqForeignKeyViolation:
			return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseAuthorNotFound)
		case pqUniqueViolation:
			return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseISBNConflict)
		default:
			return library.Book{}, fmt.Errorf("storing book on db: %w", err)
		}
	}

	bookToReturn.Available = true
	return bookToReturn, nil
}

/* Searches a book in database based on ID and returns it if succeed. */
func (store *Store) GetBookByID(ctx context.Context, id int64) (library.Book, error) {
	sqlStatement := `SELECT b.id, b.title, b.genre, b.isbn, b.author_id, b.created_at, b.updated_at, ` + bookAvailableExpr + `
	FROM books b
	WHERE b.id=$1;`
	foundRow := store.exc.QueryRowContext(ctx, sqlStatement, id)
	var bookToReturn library.Book
	err := foundRow.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Genre, &bookToReturn.ISBN, &bookToReturn.AuthorID, &bookToReturn.CreatedAt, &bookToReturn.UpdatedAt, &bookToReturn.Available)
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return library.Book{}, fmt.Errorf("searching book by ID: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("searching book by ID: %w", err)
		}
	}

	return bookToReturn, nil
}

// GetBookForUpdate locks the book row with SELECT ... FOR UPDATE. It must be
// called through a transaction-bound repository: the lock serializes every
// loan and return transition targeting the same book until commit or
// rollback. Waiting longer than the configured lock_timeout surfaces as a
// lock timeout conflict.
func (store *Store) GetBookForUpdate(ctx context.Context, id int64) (library.Book, error) {
	sqlStatement := `SELECT id, title, genre, isbn, author_id, created_at, updated_at
	FROM books
	WHERE id=$1
	FOR UPDATE;`
	foundRow := store.exc.QueryRowContext(ctx, sqlStatement, id)
	var bookToReturn library.Book
	err := foundRow.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Genre, &bookToReturn.ISBN, &bookToReturn.AuthorID, &bookToReturn.CreatedAt, &bookToReturn.UpdatedAt)
	if err != nil {
		switch {
		case err == sql.ErrNoRows:
			return library.Book{}, fmt.Errorf("locking book row: %w", library.ErrResponseBookNotFound)
		case pqErrorCode(err) == pqLockNotAvailable:
			return library.Book{}, fmt.Errorf("locking book row: %w", library.ErrResponseLockTimeout)
		default:
			return library.Book{}, fmt.Errorf("locking book row: %w", err)
		}
	}

	return bookToReturn, nil
}

// GetBookWithLoans fetches the book and its full loan history in a single
// joined query, loans ordered most recent first.
func (store *Store) GetBookWithLoans(ctx context.Context, id int64) (library.Book, error) {
	sqlStatement := `SELECT b.id, b.title, b.genre, b.isbn, b.author_id, b.created_at, b.updated_at, ` + bookAvailableExpr + `,
		l.id, l.book_id, l.borrower_name, l.loaned_at, l.returned_at
	FROM books b
	LEFT JOIN loans l ON l.book_id = b.id
	WHERE b.id = $1
	ORDER BY l.loaned_at DESC, l.id DESC;`

	rows, err := store.exc.QueryContext(ctx, sqlStatement, id)
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", err)
	}
	defer rows.Close()

	var bookToReturn library.Book
	found := false
	for rows.Next() {
		var loanID, loanBookID sql.NullInt64
		var borrowerName sql.NullString
		var loanedAt, returnedAt sql.NullTime

		err = rows.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Genre, &bookToReturn.ISBN, &bookToReturn.AuthorID,
			&bookToReturn.CreatedAt, &bookToReturn.UpdatedAt, &bookToReturn.Available,
			&loanID, &loanBookID, &borrowerName, &loanedAt, &returnedAt)
		if err != nil {
			return library.Book{}, fmt.Errorf("searching book with loans: %w", err)
		}
		found = true

		if loanID.Valid {
			loanRecord := library.Loan{
				ID:           loanID.Int64,
				BookID:       loanBookID.Int64,
				BorrowerName: borrowerName.String,
				LoanedAt:     loanedAt.Time,
			}
			if returnedAt.Valid {
				t := returnedAt.Time
				loanRecord.ReturnedAt = &t
			}
			bookToReturn.Loans = append(bookToReturn.Loans, loanRecord)
		}
	}

	err = rows.Err()
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", err)
	}
	if !found {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", library.ErrResponseBookNotFound)
	}

	return bookToReturn, nil
}

/* Returns filtered content of database in a list of books, ordered by ID. */
func (store *Store) ListBooks(ctx context.Context, genre string, skip, limit int) ([]library.Book, error) {
	sqlStatement := `SELECT b.id, b.title, b.genre, b.isbn, b.author_id, b.created_at, b.updated_at, ` + bookAvailableExpr + `
	FROM books b
	WHERE ($1 = '' OR b.genre = $1)
	ORDER BY b.id ASC
	LIMIT $2 OFFSET $3;`

	rows, err := store.exc.QueryContext(ctx, sqlStatement, genre, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	defer rows.Close()

	booksList := []library.Book{}
	var bookToReturn library.Book
	for rows.Next() {
		err = rows.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Genre, &bookToReturn.ISBN, &bookToReturn.AuthorID, &bookToReturn.CreatedAt, &bookToReturn.UpdatedAt, &bookToReturn.Available)
		if err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}

		booksList = append(booksList, bookToReturn)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	return booksList, nil
}

/* Updates title, genre and isbn of the stored book and returns the new row. */
func (store *Store) UpdateBook(ctx context.Context, bookEntry library.Book) (library.Book, error) {
	sqlStatement := `
	UPDATE books b
	SET title = $2, genre = $3, isbn = $4, updated_at = $5
	WHERE id = $1
	RETURNING id, title, genre, isbn, author_id, created_at, updated_at, ` + bookAvailableExpr
	updatedRow := store.exc.QueryRowContext(ctx, sqlStatement, bookEntry.ID, bookEntry.Title, bookEntry.Genre, bookEntry.ISBN, bookEntry.UpdatedAt)
	var bookToReturn library.Book
	err := updatedRow.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Genre, &bookToReturn.ISBN, &bookToReturn.AuthorID, &bookToReturn.CreatedAt, &bookToReturn.UpdatedAt, &bookToReturn.Available)
	if err != nil {
		switch {
		case err == sql.ErrNoRows:
			return library.Book{}, fmt.Errorf("updating book on db: %w", library.ErrResponseBookNotFound)
		case pqErrorCode(err) == pqUniqueViolation:
			return library.Book{}, fmt.Errorf("updating book on db: %w", library.ErrResponseISBNConflict)
		default:
			return library.Book{}, fmt.Errorf("updating book on db: %w", err)
		}
	}

	return bookToReturn, nil
}

/* Evaluates the open loan existence check for a single book. */
func (store *Store) BookHasOpenLoan(ctx context.Context, bookID int64) (bool, error) {
	sqlStatement := `SELECT EXISTS (SELECT 1 FROM loans WHERE book_id = $1 AND returned_at IS NULL);`
	row := store.exc.QueryRowContext(ctx, sqlStatement, bookID)
	var onLoan bool
	err := row.Scan(&onLoan)
	if err != nil {
		return false, fmt.Errorf("checking open loan on db: %w", err)
	}

	return onLoan, nil
}
