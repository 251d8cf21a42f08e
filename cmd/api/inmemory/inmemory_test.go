package inmemory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/library-service/cmd/api/inmemory"
	"github.com/library-service/cmd/api/library"
	"github.com/library-service/cmd/api/notifications"
	"github.com/matryer/is"
)

var ctx context.Context = context.Background()

var ntfy = notifications.NewNtfy(false, 1*time.Second, "someURL")

func newTestService(t *testing.T) (*library.Service, *inmemory.InMemoryStore) {
	t.Helper()
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	return library.NewService(store, ntfy, 100), store
}

func seedAuthor(t *testing.T, s *library.Service, name string) library.Author {
	t.Helper()
	is := is.New(t)
	author, err := s.CreateAuthor(ctx, library.CreateAuthorRequest{Name: name})
	is.NoErr(err)
	return author
}

func seedBook(t *testing.T, s *library.Service, authorID int64, title, genre, isbn string) library.Book {
	t.Helper()
	is := is.New(t)
	b, err := s.CreateBook(ctx, library.CreateBookRequest{
		Title:    title,
		Genre:    genre,
		ISBN:     isbn,
		AuthorID: authorID,
	})
	is.NoErr(err)
	return b
}

func TestBookLifecycle(t *testing.T) {
	is := is.New(t)
	s, _ := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	b := seedBook(t, s, author.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")
	is.Equal(b.Status(), library.StatusAvailable)

	firstLoan, err := s.LoanBook(ctx, library.LoanBookRequest{BookID: b.ID, BorrowerName: "John Doe"})
	is.NoErr(err)
	is.True(firstLoan.Open())

	onLoan, err := s.GetBook(ctx, b.ID)
	is.NoErr(err)
	is.Equal(onLoan.Status(), library.StatusOnLoan)

	// A second borrower has to wait for the return.
	_, err = s.LoanBook(ctx, library.LoanBookRequest{BookID: b.ID, BorrowerName: "Jane Smith"})
	is.True(errors.Is(err, library.ErrResponseBookAlreadyOnLoan))

	closedLoan, err := s.ReturnLoan(ctx, firstLoan.ID)
	is.NoErr(err)
	is.True(!closedLoan.Open())

	_, err = s.ReturnLoan(ctx, firstLoan.ID)
	is.True(errors.Is(err, library.ErrResponseLoanAlreadyReturned))

	available, err := s.GetBook(ctx, b.ID)
	is.NoErr(err)
	is.Equal(available.Status(), library.StatusAvailable)

	secondLoan, err := s.LoanBook(ctx, library.LoanBookRequest{BookID: b.ID, BorrowerName: "Jane Smith"})
	is.NoErr(err)
	is.True(secondLoan.Open())

	withHistory, err := s.GetBook(ctx, b.ID)
	is.NoErr(err)
	is.Equal(len(withHistory.Loans), 2)
	is.Equal(withHistory.Loans[0].BorrowerName, "Jane Smith") // most recent first
	is.Equal(withHistory.Loans[1].BorrowerName, "John Doe")
}

func TestConcurrentLoans(t *testing.T) {
	is := is.New(t)
	s, _ := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	b := seedBook(t, s, author.ID, "Animal Farm", "satire", "978-0-452-28424-1")

	const borrowers = 16
	errs := make(chan error, borrowers)
	var wg sync.WaitGroup
	for i := 0; i < borrowers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.LoanBook(ctx, library.LoanBookRequest{
				BookID:       b.ID,
				BorrowerName: fmt.Sprintf("borrower %d", n),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded, conflicted := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, library.ErrResponseBookAlreadyOnLoan):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	is.Equal(succeeded, 1)
	is.Equal(conflicted, borrowers-1)

	loans, err := s.ListLoans(ctx, library.ListLoansRequest{ActiveOnly: true})
	is.NoErr(err)
	is.Equal(len(loans), 1)
}

func TestDeleteAuthorCascades(t *testing.T) {
	is := is.New(t)
	s, _ := newTestService(t)

	doomed := seedAuthor(t, s, "George Orwell")
	loanedBook := seedBook(t, s, doomed.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")
	seedBook(t, s, doomed.ID, "Animal Farm", "satire", "978-0-452-28424-1")

	survivor := seedAuthor(t, s, "Aldous Huxley")
	survivorBook := seedBook(t, s, survivor.ID, "Brave New World", "dystopia", "978-0-06-085052-4")

	l, err := s.LoanBook(ctx, library.LoanBookRequest{BookID: loanedBook.ID, BorrowerName: "John Doe"})
	is.NoErr(err)
	_, err = s.ReturnLoan(ctx, l.ID)
	is.NoErr(err)
	_, err = s.LoanBook(ctx, library.LoanBookRequest{BookID: loanedBook.ID, BorrowerName: "Jane Smith"})
	is.NoErr(err)
	_, err = s.LoanBook(ctx, library.LoanBookRequest{BookID: survivorBook.ID, BorrowerName: "John Doe"})
	is.NoErr(err)

	err = s.DeleteAuthor(ctx, doomed.ID)
	is.NoErr(err)

	_, err = s.GetAuthor(ctx, doomed.ID)
	is.True(errors.Is(err, library.ErrResponseAuthorNotFound))
	_, err = s.GetBook(ctx, loanedBook.ID)
	is.True(errors.Is(err, library.ErrResponseBookNotFound))

	// The other author's catalog is untouched.
	kept, err := s.GetAuthor(ctx, survivor.ID)
	is.NoErr(err)
	is.Equal(len(kept.Books), 1)
	loans, err := s.ListLoans(ctx, library.ListLoansRequest{})
	is.NoErr(err)
	is.Equal(len(loans), 1)
	is.Equal(loans[0].BookID, survivorBook.ID)
}

func TestDeleteAuthorNotFound(t *testing.T) {
	is := is.New(t)
	s, _ := newTestService(t)

	err := s.DeleteAuthor(ctx, 404)
	is.True(errors.Is(err, library.ErrResponseAuthorNotFound))
}

func TestCreateBookConstraints(t *testing.T) {
	s, _ := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	seedBook(t, s, author.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")

	t.Run("rejects a duplicated isbn", func(t *testing.T) {
		is := is.New(t)
		_, err := s.CreateBook(ctx, library.CreateBookRequest{
			Title:    "Another printing",
			ISBN:     "978-0-452-28423-4",
			AuthorID: author.ID,
		})
		is.True(errors.Is(err, library.ErrResponseISBNConflict))
		is.True(library.IsConflict(err))
	})

	t.Run("rejects an unknown author", func(t *testing.T) {
		is := is.New(t)
		_, err := s.CreateBook(ctx, library.CreateBookRequest{
			Title:    "Orphan book",
			ISBN:     "978-0-452-99999-9",
			AuthorID: 404,
		})
		is.True(errors.Is(err, library.ErrResponseAuthorNotFound))
	})
}

func TestUpdateBookKeepsAvailabilityDerived(t *testing.T) {
	is := is.New(t)
	s, _ := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	b := seedBook(t, s, author.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")

	_, err := s.LoanBook(ctx, library.LoanBookRequest{BookID: b.ID, BorrowerName: "John Doe"})
	is.NoErr(err)

	// Editing metadata while the book is out does not touch its status.
	newTitle := "1984"
	updated, err := s.UpdateBook(ctx, library.UpdateBookRequest{ID: b.ID, Title: &newTitle})
	is.NoErr(err)
	is.Equal(updated.Title, newTitle)
	is.Equal(updated.Status(), library.StatusOnLoan)
}

func TestListBooks(t *testing.T) {
	s, _ := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	seedBook(t, s, author.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")
	seedBook(t, s, author.ID, "Animal Farm", "satire", "978-0-452-28424-1")
	seedBook(t, s, author.ID, "Homage to Catalonia", "memoir", "978-0-15-642117-1")

	t.Run("lists every book ordered by id", func(t *testing.T) {
		is := is.New(t)
		books, err := s.ListBooks(ctx, library.ListBooksRequest{})
		is.NoErr(err)
		is.Equal(len(books), 3)
		is.True(books[0].ID < books[1].ID && books[1].ID < books[2].ID)
	})

	t.Run("filters by exact genre", func(t *testing.T) {
		is := is.New(t)
		books, err := s.ListBooks(ctx, library.ListBooksRequest{Genre: "satire"})
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].Title, "Animal Farm")
	})

	t.Run("paginates with skip and limit", func(t *testing.T) {
		is := is.New(t)
		books, err := s.ListBooks(ctx, library.ListBooksRequest{Page: library.PageRequest{Skip: 1, Limit: 1}})
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].Title, "Animal Farm")
	})

	t.Run("returns an empty page past the end", func(t *testing.T) {
		is := is.New(t)
		books, err := s.ListBooks(ctx, library.ListBooksRequest{Page: library.PageRequest{Skip: 10}})
		is.NoErr(err)
		is.Equal(len(books), 0)
	})
}

func TestLoanHistoryBreaksTimestampTies(t *testing.T) {
	is := is.New(t)
	s, store := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	b := seedBook(t, s, author.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")

	// Two loans stamped on the exact same millisecond still come back
	// most recent first.
	stamp := time.Now().UTC().Round(time.Millisecond)
	first, err := store.CreateLoan(ctx, library.Loan{BookID: b.ID, BorrowerName: "John Doe", LoanedAt: stamp})
	is.NoErr(err)
	_, err = store.SetLoanReturned(ctx, first.ID, stamp)
	is.NoErr(err)
	second, err := store.CreateLoan(ctx, library.Loan{BookID: b.ID, BorrowerName: "Jane Smith", LoanedAt: stamp})
	is.NoErr(err)

	withHistory, err := s.GetBook(ctx, b.ID)
	is.NoErr(err)
	is.Equal(len(withHistory.Loans), 2)
	is.Equal(withHistory.Loans[0].ID, second.ID)
	is.Equal(withHistory.Loans[1].ID, first.ID)

	loans, err := s.ListLoans(ctx, library.ListLoansRequest{})
	is.NoErr(err)
	is.Equal(len(loans), 2)
	is.Equal(loans[0].ID, second.ID)
	is.Equal(loans[1].ID, first.ID)
}

func TestStoreGuardsAgainstSecondOpenLoan(t *testing.T) {
	is := is.New(t)
	s, store := newTestService(t)

	author := seedAuthor(t, s, "George Orwell")
	b := seedBook(t, s, author.ID, "Nineteen Eighty-Four", "dystopia", "978-0-452-28423-4")

	now := time.Now().UTC().Round(time.Millisecond)
	_, err := store.CreateLoan(ctx, library.Loan{BookID: b.ID, BorrowerName: "John Doe", LoanedAt: now})
	is.NoErr(err)

	// Writing a second open loan directly is refused at the storage layer.
	_, err = store.CreateLoan(ctx, library.Loan{BookID: b.ID, BorrowerName: "Jane Smith", LoanedAt: now})
	is.True(errors.Is(err, library.ErrResponseBookAlreadyOnLoan))
}
