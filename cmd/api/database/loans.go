package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/library-service/cmd/api/library"
)

// CreateLoan inserts the loan row. The partial unique index on open loans
// (one_open_loan_per_book) is the last line of defense: if a caller ever
// bypasses the row lock, the insert of a second open loan fails here and is
// surfaced as the same conflict.
func (store *Store) CreateLoan(ctx context.Context, loanEntry library.Loan) (library.Loan, error) {
	sqlStatement := `
	INSERT INTO loans (book_id, borrower_name, loaned_at, returned_at)
	VALUES ($1, $2, $3, NULL)
	RETURNING id, book_id, borrower_name, loaned_at, returned_at`
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, loanEntry.BookID, loanEntry.BorrowerName, loanEntry.LoanedAt)
	var loanToReturn library.Loan
	var returnedAt sql.NullTime
	err := createdRow.Scan(&loanToReturn.ID, &loanToReturn.BookID, &loanToReturn.BorrowerName, &loanToReturn.LoanedAt, &returnedAt)
	if err != nil {
		switch pqErrorCode(err) {
		case pqUniqueViolation:
			return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseBookAlreadyOnLoan)
		case pqForeignKeyViolation:
			return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseBookNotFound)
		default:
			return library.Loan{}, fmt.Errorf("storing loan on db: %w", err)
		}
	}

	return loanToReturn, nil
}

// GetLoanForUpdate locks the loan row with SELECT ... FOR UPDATE so the
// return transition reads ReturnedAt under the lock. Must be called through
// a transaction-bound repository.
func (store *Store) GetLoanForUpdate(ctx context.Context, id int64) (library.Loan, error) {
	sqlStatement := `SELECT id, book_id, borrower_name, loaned_at, returned_at
	FROM loans
	WHERE id=$1
	FOR UPDATE;`
	foundRow := store.exc.QueryRowContext(ctx, sqlStatement, id)
	var loanToReturn library.Loan
	var returnedAt sql.NullTime
	err := foundRow.Scan(&loanToReturn.ID, &loanToReturn.BookID, &loanToReturn.BorrowerName, &loanToReturn.LoanedAt, &returnedAt)
	if err != nil {
		switch {
		case err == sql.ErrNoRows:
			return library.Loan{}, fmt.Errorf("locking loan row: %w", library.ErrResponseLoanNotFound)
		case pqErrorCode(err) == pqLockNotAvailable:
			return library.Loan{}, fmt.Errorf("locking loan row: %w", library.ErrResponseLockTimeout)
		default:
			return library.Loan{}, fmt.Errorf("locking loan row: %w", err)
		}
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		loanToReturn.ReturnedAt = &t
	}

	return loanToReturn, nil
}

// SetLoanReturned closes the loan. The WHERE guard on returned_at keeps the
// column write-once even if the caller skipped the locked read.
func (store *Store) SetLoanReturned(ctx context.Context, id int64, returnedAt time.Time) (library.Loan, error) {
	sqlStatement := `
	UPDATE loans
	SET returned_at = $2
	WHERE id = $1 AND returned_at IS NULL
	RETURNING id, book_id, borrower_name, loaned_at, returned_at`
	updatedRow := store.exc.QueryRowContext(ctx, sqlStatement, id, returnedAt)
	var loanToReturn library.Loan
	var closedAt sql.NullTime
	err := updatedRow.Scan(&loanToReturn.ID, &loanToReturn.BookID, &loanToReturn.BorrowerName, &loanToReturn.LoanedAt, &closedAt)
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return library.Loan{}, fmt.Errorf("returning loan on db: %w", library.ErrResponseLoanAlreadyReturned)
		default:
			return library.Loan{}, fmt.Errorf("returning loan on db: %w", err)
		}
	}
	if closedAt.Valid {
		t := closedAt.Time
		loanToReturn.ReturnedAt = &t
	}

	return loanToReturn, nil
}

/* Returns the stored loans, most recent first, optionally only the open ones. */
func (store *Store) ListLoans(ctx context.Context, activeOnly bool, skip, limit int) ([]library.Loan, error) {
	sqlStatement := `SELECT id, book_id, borrower_name, loaned_at, returned_at
	FROM loans
	WHERE ($1 = FALSE OR returned_at IS NULL)
	ORDER BY loaned_at DESC, id DESC
	LIMIT $2 OFFSET $3;`

	rows, err := store.exc.QueryContext(ctx, sqlStatement, activeOnly, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("listing loans from db: %w", err)
	}
	defer rows.Close()

	loansList := []library.Loan{}
	for rows.Next() {
		var loanToReturn library.Loan
		var returnedAt sql.NullTime
		err = rows.Scan(&loanToReturn.ID, &loanToReturn.BookID, &loanToReturn.BorrowerName, &loanToReturn.LoanedAt, &returnedAt)
		if err != nil {
			return nil, fmt.Errorf("listing loans from db: %w", err)
		}
		if returnedAt.Valid {
			t := returnedAt.Time
			loanToReturn.ReturnedAt = &t
		}

		loansList = append(loansList, loanToReturn)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("listing loans from db: %w", err)
	}

	return loansList, nil
}
