package library

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

type LoanBookRequest struct {
	BookID       int64
	BorrowerName string
}

type ListLoansRequest struct {
	ActiveOnly bool
	Page       PageRequest
}

// LoanBook moves a book from AVAILABLE to ON_LOAN. The whole transition runs
// inside one repository transaction: the book row is locked first, the open
// loan precondition is checked under that lock, and only then the new loan
// row is written. Two concurrent calls on the same book therefore serialize,
// and exactly one of them gets the loan.
func (s *Service) LoanBook(ctx context.Context, req LoanBookRequest) (Loan, error) {
	borrower := strings.TrimSpace(req.BorrowerName)
	if borrower == "" {
		return Loan{}, ErrResponseLoanEntryBlankFields
	}

	txRepo, tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return Loan{}, fmt.Errorf("beginning loan transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lockedBook, err := txRepo.GetBookForUpdate(ctx, req.BookID)
	if err != nil {
		return Loan{}, err
	}

	onLoan, err := txRepo.BookHasOpenLoan(ctx, req.BookID)
	if err != nil {
		return Loan{}, err
	}
	if onLoan {
		return Loan{}, ErrResponseBookAlreadyOnLoan
	}

	newLoan, err := txRepo.CreateLoan(ctx, Loan{
		BookID:       req.BookID,
		BorrowerName: borrower,
		LoanedAt:     time.Now().UTC().Round(time.Millisecond),
	})
	if err != nil {
		return Loan{}, err
	}

	if err := tx.Commit(); err != nil {
		return Loan{}, fmt.Errorf("committing loan transaction: %w", err)
	}
	committed = true

	go func() {
		err := s.ntfy.BookLoaned(lockedBook.Title, borrower)
		if err != nil {
			log.Println(err)
		}
	}()

	return newLoan, nil
}

// ReturnLoan closes an open loan exactly once. The loan row is locked before
// the state check, so a concurrent double return sees the already written
// ReturnedAt and fails with a conflict.
func (s *Service) ReturnLoan(ctx context.Context, loanID int64) (Loan, error) {
	txRepo, tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return Loan{}, fmt.Errorf("beginning return transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	openLoan, err := txRepo.GetLoanForUpdate(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if !openLoan.Open() {
		return Loan{}, ErrResponseLoanAlreadyReturned
	}

	returnedBook, err := txRepo.GetBookByID(ctx, openLoan.BookID)
	if err != nil {
		return Loan{}, err
	}

	closedLoan, err := txRepo.SetLoanReturned(ctx, loanID, time.Now().UTC().Round(time.Millisecond))
	if err != nil {
		return Loan{}, err
	}

	if err := tx.Commit(); err != nil {
		return Loan{}, fmt.Errorf("committing return transaction: %w", err)
	}
	committed = true

	go func() {
		err := s.ntfy.LoanReturned(returnedBook.Title, closedLoan.BorrowerName)
		if err != nil {
			log.Println(err)
		}
	}()

	return closedLoan, nil
}

func (s *Service) ListLoans(ctx context.Context, req ListLoansRequest) ([]Loan, error) {
	skip, limit := s.clampPage(req.Page)
	loans, err := s.repo.ListLoans(ctx, req.ActiveOnly, skip, limit)
	if err != nil {
		return nil, s.asRepositoryError("ListLoans", err)
	}
	return loans, nil
}
