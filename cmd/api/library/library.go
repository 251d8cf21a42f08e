package library

import (
	"time"
)

// Book availability states, derived from the loan history.
const (
	StatusAvailable = "AVAILABLE"
	StatusOnLoan    = "ON_LOAN"
)

type Author struct {
	ID        int64
	Name      string
	Bio       string
	CreatedAt time.Time
	Books     []Book // filled only by GetAuthor
}

type Book struct {
	ID        int64
	Title     string
	Genre     string
	ISBN      string
	AuthorID  int64
	Available bool // derived: true when no open loan exists for this book
	CreatedAt time.Time
	UpdatedAt time.Time
	Loans     []Loan // filled only by GetBook, most recent first
}

/* Returns the availability state of the book as a named status. */
func (b Book) Status() string {
	if b.Available {
		return StatusAvailable
	}
	return StatusOnLoan
}

type Loan struct {
	ID           int64
	BookID       int64
	BorrowerName string
	LoanedAt     time.Time
	ReturnedAt   *time.Time // nil while the loan is open
}

/* Reports whether the loan is still open (book not returned yet). */
func (l Loan) Open() bool {
	return l.ReturnedAt == nil
}
