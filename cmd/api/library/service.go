package library

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/library-service/cmd/api/notifications"
)

type ServiceAPI interface {
	CreateAuthor(ctx context.Context, req CreateAuthorRequest) (Author, error)
	ListAuthors(ctx context.Context, page PageRequest) ([]Author, error)
	GetAuthor(ctx context.Context, id int64) (Author, error)
	DeleteAuthor(ctx context.Context, id int64) error
	CreateBook(ctx context.Context, req CreateBookRequest) (Book, error)
	ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error)
	GetBook(ctx context.Context, id int64) (Book, error)
	UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error)
	LoanBook(ctx context.Context, req LoanBookRequest) (Loan, error)
	ReturnLoan(ctx context.Context, loanID int64) (Loan, error)
	ListLoans(ctx context.Context, req ListLoansRequest) ([]Loan, error)
}

// Repository is the persistence contract of the service. BeginTx returns a
// repository bound to a single transaction together with its transaction
// handle; every call made through the returned repository only becomes
// visible at Commit.
type Repository interface {
	BeginTx(ctx context.Context) (Repository, driver.Tx, error)

	CreateAuthor(ctx context.Context, author Author) (Author, error)
	GetAuthorByID(ctx context.Context, id int64) (Author, error)
	GetAuthorWithBooks(ctx context.Context, id int64) (Author, error)
	ListAuthors(ctx context.Context, skip, limit int) ([]Author, error)
	DeleteAuthorLoans(ctx context.Context, authorID int64) error
	DeleteAuthorBooks(ctx context.Context, authorID int64) error
	DeleteAuthor(ctx context.Context, id int64) error

	CreateBook(ctx context.Context, book Book) (Book, error)
	GetBookByID(ctx context.Context, id int64) (Book, error)
	GetBookWithLoans(ctx context.Context, id int64) (Book, error)
	GetBookForUpdate(ctx context.Context, id int64) (Book, error)
	ListBooks(ctx context.Context, genre string, skip, limit int) ([]Book, error)
	UpdateBook(ctx context.Context, book Book) (Book, error)
	BookHasOpenLoan(ctx context.Context, bookID int64) (bool, error)

	CreateLoan(ctx context.Context, loan Loan) (Loan, error)
	GetLoanForUpdate(ctx context.Context, id int64) (Loan, error)
	SetLoanReturned(ctx context.Context, id int64, returnedAt time.Time) (Loan, error)
	ListLoans(ctx context.Context, activeOnly bool, skip, limit int) ([]Loan, error)
}

type Service struct {
	repo        Repository
	ntfy        *notifications.Ntfy
	maxPageSize int
}

func NewService(repo Repository, ntfy *notifications.Ntfy, maxPageSize int) *Service {
	return &Service{repo: repo, ntfy: ntfy, maxPageSize: maxPageSize}
}

type PageRequest struct {
	Skip  int
	Limit int
}

type CreateAuthorRequest struct {
	Name string
	Bio  string
}

type CreateBookRequest struct {
	Title    string
	Genre    string
	ISBN     string
	AuthorID int64
}

type UpdateBookRequest struct {
	ID    int64
	Title *string
	Genre *string
	ISBN  *string
}

type ListBooksRequest struct {
	Genre string
	Page  PageRequest
}

/* Validates the entry and stores a new author. */
func (s *Service) CreateAuthor(ctx context.Context, req CreateAuthorRequest) (Author, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Author{}, ErrResponseAuthorEntryBlankFields
	}

	newAuthor := Author{
		Name:      name,
		Bio:       req.Bio,
		CreatedAt: time.Now().UTC().Round(time.Millisecond),
	}
	return s.repo.CreateAuthor(ctx, newAuthor)
}

func (s *Service) ListAuthors(ctx context.Context, page PageRequest) ([]Author, error) {
	skip, limit := s.clampPage(page)
	authors, err := s.repo.ListAuthors(ctx, skip, limit)
	if err != nil {
		return nil, s.asRepositoryError("ListAuthors", err)
	}
	return authors, nil
}

/* Returns the author with that ID together with all its books. */
func (s *Service) GetAuthor(ctx context.Context, id int64) (Author, error) {
	return s.repo.GetAuthorWithBooks(ctx, id)
}

// DeleteAuthor cascades over the author's books and their loans inside a
// single transaction, in dependency order: loans, then books, then the
// author itself. Either everything is removed or nothing is.
func (s *Service) DeleteAuthor(ctx context.Context, id int64) error {
	txRepo, tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete author transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := txRepo.GetAuthorByID(ctx, id); err != nil {
		return err
	}
	if err := txRepo.DeleteAuthorLoans(ctx, id); err != nil {
		return err
	}
	if err := txRepo.DeleteAuthorBooks(ctx, id); err != nil {
		return err
	}
	if err := txRepo.DeleteAuthor(ctx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete author transaction: %w", err)
	}
	committed = true
	return nil
}

/* Validates the entry and stores a new book, initially available. */
func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (Book, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.ISBN) == "" || req.AuthorID <= 0 {
		return Book{}, ErrResponseBookEntryBlankFields
	}

	createdAt := time.Now().UTC().Round(time.Millisecond)
	newBook := Book{
		Title:     req.Title,
		Genre:     req.Genre,
		ISBN:      req.ISBN,
		AuthorID:  req.AuthorID,
		Available: true,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return s.repo.CreateBook(ctx, newBook)
}

func (s *Service) ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error) {
	skip, limit := s.clampPage(req.Page)
	books, err := s.repo.ListBooks(ctx, req.Genre, skip, limit)
	if err != nil {
		return nil, s.asRepositoryError("ListBooks", err)
	}
	return books, nil
}

/* Returns the book with that ID together with its loan history, most recent first. */
func (s *Service) GetBook(ctx context.Context, id int64) (Book, error) {
	return s.repo.GetBookWithLoans(ctx, id)
}

// UpdateBook applies a partial update of title, genre and isbn. The owning
// author is immutable. The book availability is not touched: it keeps being
// derived from the loan rows.
func (s *Service) UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error) {
	bookEntry, err := s.repo.GetBookByID(ctx, req.ID)
	if err != nil {
		return Book{}, err
	}

	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return Book{}, ErrResponseBookEntryBlankFields
		}
		bookEntry.Title = *req.Title
	}
	if req.Genre != nil {
		bookEntry.Genre = *req.Genre
	}
	if req.ISBN != nil {
		if strings.TrimSpace(*req.ISBN) == "" {
			return Book{}, ErrResponseBookEntryBlankFields
		}
		bookEntry.ISBN = *req.ISBN
	}

	bookEntry.UpdatedAt = time.Now().UTC().Round(time.Millisecond)
	return s.repo.UpdateBook(ctx, bookEntry)
}

/* Brings skip and limit to the configured bounds, whatever the caller asked for. */
func (s *Service) clampPage(page PageRequest) (skip, limit int) {
	skip = page.Skip
	if skip < 0 {
		skip = 0
	}
	limit = page.Limit
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	return skip, limit
}

/* Keeps context timeouts recognizable and tags everything else as a repository failure. */
func (s *Service) asRepositoryError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout on call to %s: %w", op, err)
	}
	var errResp ErrResponse
	if errors.As(err, &errResp) {
		return err
	}
	return ErrResponse{
		Code:    ErrResponseFromRepository.Code,
		Message: ErrResponseFromRepository.Message + err.Error(),
	}
}
