// Package inmemory implements the library repository on top of go-memdb.
// It backs the unit and concurrency tests and serves as a database-free
// run mode. Write transactions in memdb are single-writer, which gives the
// loan transitions the same serialization the postgres store gets from row
// locks. There is no bounded lock wait here though: a writer blocks until
// the transaction in flight finishes, so the configured lock timeout only
// applies to the sql store.
package inmemory

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/library-service/cmd/api/library"
)

type InMemoryStore struct {
	db  *memdb.MemDB
	txn *memdb.Txn // set only on transaction-bound stores returned by BeginTx
	ids *idCounters
}

type idCounters struct {
	authors int64
	books   int64
	loans   int64
}

func NewInMemoryStore() (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"author": {
				Name: "author",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
				},
			},
			"book": {
				Name: "book",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					"author_id": {
						Name:    "author_id",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "AuthorID"},
					},
					"isbn": {
						Name:    "isbn",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "ISBN"},
					},
				},
			},
			"loan": {
				Name: "loan",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					"book_id": {
						Name:    "book_id",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "BookID"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db, ids: &idCounters{}}, nil
}

// Rows kept in memdb. They deliberately carry no availability flag and no
// loans slice: both are derived on every read, same as the sql store does.
type authorRow struct {
	ID        int64
	Name      string
	Bio       string
	CreatedAt time.Time
}

type bookRow struct {
	ID        int64
	Title     string
	Genre     string
	ISBN      string
	AuthorID  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type loanRow struct {
	ID           int64
	BookID       int64
	BorrowerName string
	LoanedAt     time.Time
	ReturnedAt   *time.Time
}

func (r authorRow) toAuthor() library.Author {
	return library.Author{ID: r.ID, Name: r.Name, Bio: r.Bio, CreatedAt: r.CreatedAt}
}

func (r loanRow) toLoan() library.Loan {
	return library.Loan{ID: r.ID, BookID: r.BookID, BorrowerName: r.BorrowerName, LoanedAt: r.LoanedAt, ReturnedAt: r.ReturnedAt}
}

func (store *InMemoryStore) toBook(txn *memdb.Txn, r bookRow) (library.Book, error) {
	onLoan, err := hasOpenLoan(txn, r.ID)
	if err != nil {
		return library.Book{}, err
	}
	return library.Book{
		ID:        r.ID,
		Title:     r.Title,
		Genre:     r.Genre,
		ISBN:      r.ISBN,
		AuthorID:  r.AuthorID,
		Available: !onLoan,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func hasOpenLoan(txn *memdb.Txn, bookID int64) (bool, error) {
	it, err := txn.Get("loan", "book_id", bookID)
	if err != nil {
		return false, err
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if obj.(loanRow).ReturnedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// reader returns the transaction to run a read on: the bound one when this
// store came from BeginTx, a fresh snapshot otherwise.
func (store *InMemoryStore) reader() (*memdb.Txn, func()) {
	if store.txn != nil {
		return store.txn, func() {}
	}
	txn := store.db.Txn(false)
	return txn, txn.Abort
}

// writer returns the transaction to run a write on, together with commit and
// abort functions. For a transaction-bound store both are no-ops: the
// lifecycle belongs to the driver.Tx returned by BeginTx.
func (store *InMemoryStore) writer() (txn *memdb.Txn, commit func(), abort func()) {
	if store.txn != nil {
		return store.txn, func() {}, func() {}
	}
	txn = store.db.Txn(true)
	return txn, txn.Commit, txn.Abort
}

type memTx struct {
	txn *memdb.Txn
}

func (t memTx) Commit() error {
	t.txn.Commit()
	return nil
}

func (t memTx) Rollback() error {
	t.txn.Abort()
	return nil
}

// BeginTx hands out a store bound to a single write transaction. Opening it
// blocks while another write transaction is in flight, which is what
// serializes concurrent loan transitions here.
func (store *InMemoryStore) BeginTx(ctx context.Context) (library.Repository, driver.Tx, error) {
	txn := store.db.Txn(true)
	txStore := &InMemoryStore{db: store.db, txn: txn, ids: store.ids}
	return txStore, memTx{txn: txn}, nil
}

// -- Authors --

func (store *InMemoryStore) CreateAuthor(ctx context.Context, authorEntry library.Author) (library.Author, error) {
	txn, commit, abort := store.writer()
	defer abort()

	row := authorRow{
		ID:        atomic.AddInt64(&store.ids.authors, 1),
		Name:      authorEntry.Name,
		Bio:       authorEntry.Bio,
		CreatedAt: authorEntry.CreatedAt,
	}
	if err := txn.Insert("author", row); err != nil {
		return library.Author{}, fmt.Errorf("storing author on db: %w", err)
	}

	commit()
	return row.toAuthor(), nil
}

func (store *InMemoryStore) GetAuthorByID(ctx context.Context, id int64) (library.Author, error) {
	txn, done := store.reader()
	defer done()

	raw, err := txn.First("author", "id", id)
	if err != nil {
		return library.Author{}, fmt.Errorf("searching author by ID: %w", err)
	}
	if raw == nil {
		return library.Author{}, fmt.Errorf("searching author by ID: %w", library.ErrResponseAuthorNotFound)
	}

	return raw.(authorRow).toAuthor(), nil
}

func (store *InMemoryStore) GetAuthorWithBooks(ctx context.Context, id int64) (library.Author, error) {
	txn, done := store.reader()
	defer done()

	raw, err := txn.First("author", "id", id)
	if err != nil {
		return library.Author{}, fmt.Errorf("searching author with books: %w", err)
	}
	if raw == nil {
		return library.Author{}, fmt.Errorf("searching author with books: %w", library.ErrResponseAuthorNotFound)
	}
	authorToReturn := raw.(authorRow).toAuthor()

	it, err := txn.Get("book", "author_id", id)
	if err != nil {
		return library.Author{}, fmt.Errorf("searching author with books: %w", err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		b, err := store.toBook(txn, obj.(bookRow))
		if err != nil {
			return library.Author{}, fmt.Errorf("searching author with books: %w", err)
		}
		authorToReturn.Books = append(authorToReturn.Books, b)
	}
	sort.Slice(authorToReturn.Books, func(i, j int) bool {
		return authorToReturn.Books[i].ID < authorToReturn.Books[j].ID
	})

	return authorToReturn, nil
}

func (store *InMemoryStore) ListAuthors(ctx context.Context, skip, limit int) ([]library.Author, error) {
	txn, done := store.reader()
	defer done()

	it, err := txn.Get("author", "id")
	if err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", err)
	}

	authorsList := []library.Author{}
	seen := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if seen < skip {
			seen++
			continue
		}
		if len(authorsList) == limit {
			break
		}
		authorsList = append(authorsList, obj.(authorRow).toAuthor())
	}

	return authorsList, nil
}

func (store *InMemoryStore) DeleteAuthorLoans(ctx context.Context, authorID int64) error {
	txn, commit, abort := store.writer()
	defer abort()

	it, err := txn.Get("book", "author_id", authorID)
	if err != nil {
		return fmt.Errorf("deleting author loans from db: %w", err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		_, err := txn.DeleteAll("loan", "book_id", obj.(bookRow).ID)
		if err != nil {
			return fmt.Errorf("deleting author loans from db: %w", err)
		}
	}

	commit()
	return nil
}

func (store *InMemoryStore) DeleteAuthorBooks(ctx context.Context, authorID int64) error {
	txn, commit, abort := store.writer()
	defer abort()

	_, err := txn.DeleteAll("book", "author_id", authorID)
	if err != nil {
		return fmt.Errorf("deleting author books from db: %w", err)
	}

	commit()
	return nil
}

func (store *InMemoryStore) DeleteAuthor(ctx context.Context, id int64) error {
	txn, commit, abort := store.writer()
	defer abort()

	raw, err := txn.First("author", "id", id)
	if err != nil {
		return fmt.Errorf("deleting author from db: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("deleting author from db: %w", library.ErrResponseAuthorNotFound)
	}
	if err := txn.Delete("author", raw); err != nil {
		return fmt.Errorf("deleting author from db: %w", err)
	}

	commit()
	return nil
}

// -- Books --

func (store *InMemoryStore) CreateBook(ctx context.Context, bookEntry library.Book) (library.Book, error) {
	txn, commit, abort := store.writer()
	defer abort()

	rawAuthor, err := txn.First("author", "id", bookEntry.AuthorID)
	if err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	if rawAuthor == nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseAuthorNotFound)
	}

	rawISBN, err := txn.First("book", "isbn", bookEntry.ISBN)
	if err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	if rawISBN != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseISBNConflict)
	}

	row := bookRow{
		ID:        atomic.AddInt64(&store.ids.books, 1),
		Title:     bookEntry.Title,
		Genre:     bookEntry.Genre,
		ISBN:      bookEntry.ISBN,
		AuthorID:  bookEntry.AuthorID,
		CreatedAt: bookEntry.CreatedAt,
		UpdatedAt: bookEntry.UpdatedAt,
	}
	if err := txn.Insert("book", row); err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	bookToReturn, err := store.toBook(txn, row)
	if err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	commit()
	return bookToReturn, nil
}

func (store *InMemoryStore) GetBookByID(ctx context.Context, id int64) (library.Book, error) {
	txn, done := store.reader()
	defer done()

	raw, err := txn.First("book", "id", id)
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book by ID: %w", err)
	}
	if raw == nil {
		return library.Book{}, fmt.Errorf("searching book by ID: %w", library.ErrResponseBookNotFound)
	}

	return store.toBook(txn, raw.(bookRow))
}

// GetBookForUpdate has nothing extra to lock here: the store handing it out
// is bound to the single write transaction already.
func (store *InMemoryStore) GetBookForUpdate(ctx context.Context, id int64) (library.Book, error) {
	return store.GetBookByID(ctx, id)
}

func (store *InMemoryStore) GetBookWithLoans(ctx context.Context, id int64) (library.Book, error) {
	txn, done := store.reader()
	defer done()

	raw, err := txn.First("book", "id", id)
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", err)
	}
	if raw == nil {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", library.ErrResponseBookNotFound)
	}
	bookToReturn, err := store.toBook(txn, raw.(bookRow))
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", err)
	}

	it, err := txn.Get("loan", "book_id", id)
	if err != nil {
		return library.Book{}, fmt.Errorf("searching book with loans: %w", err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		bookToReturn.Loans = append(bookToReturn.Loans, obj.(loanRow).toLoan())
	}
	// The id breaks ties: timestamps are rounded to the millisecond, so
	// back-to-back loans can share one.
	sort.Slice(bookToReturn.Loans, func(i, j int) bool {
		if !bookToReturn.Loans[i].LoanedAt.Equal(bookToReturn.Loans[j].LoanedAt) {
			return bookToReturn.Loans[i].LoanedAt.After(bookToReturn.Loans[j].LoanedAt)
		}
		return bookToReturn.Loans[i].ID > bookToReturn.Loans[j].ID
	})

	return bookToReturn, nil
}

func (store *InMemoryStore) ListBooks(ctx context.Context, genre string, skip, limit int) ([]library.Book, error) {
	txn, done := store.reader()
	defer done()

	it, err := txn.Get("book", "id")
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	booksList := []library.Book{}
	seen := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		row := obj.(bookRow)
		if genre != "" && row.Genre != genre {
			continue
		}
		if seen < skip {
			seen++
			continue
		}
		if len(booksList) == limit {
			break
		}
		b, err := store.toBook(txn, row)
		if err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}
		booksList = append(booksList, b)
	}

	return booksList, nil
}

func (store *InMemoryStore) UpdateBook(ctx context.Context, bookEntry library.Book) (library.Book, error) {
	txn, commit, abort := store.writer()
	defer abort()

	raw, err := txn.First("book", "id", bookEntry.ID)
	if err != nil {
		return library.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	if raw == nil {
		return library.Book{}, fmt.Errorf("updating book on db: %w", library.ErrResponseBookNotFound)
	}

	rawISBN, err := txn.First("book", "isbn", bookEntry.ISBN)
	if err != nil {
		return library.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	if rawISBN != nil && rawISBN.(bookRow).ID != bookEntry.ID {
		return library.Book{}, fmt.Errorf("updating book on db: %w", library.ErrResponseISBNConflict)
	}

	row := raw.(bookRow)
	row.Title = bookEntry.Title
	row.Genre = bookEntry.Genre
	row.ISBN = bookEntry.ISBN
	row.UpdatedAt = bookEntry.UpdatedAt
	if err := txn.Insert("book", row); err != nil {
		return library.Book{}, fmt.Errorf("updating book on db: %w", err)
	}

	bookToReturn, err := store.toBook(txn, row)
	if err != nil {
		return library.Book{}, fmt.Errorf("updating book on db: %w", err)
	}

	commit()
	return bookToReturn, nil
}

func (store *InMemoryStore) BookHasOpenLoan(ctx context.Context, bookID int64) (bool, error) {
	txn, done := store.reader()
	defer done()

	onLoan, err := hasOpenLoan(txn, bookID)
	if err != nil {
		return false, fmt.Errorf("checking open loan on db: %w", err)
	}
	return onLoan, nil
}

// -- Loans --

func (store *InMemoryStore) CreateLoan(ctx context.Context, loanEntry library.Loan) (library.Loan, error) {
	txn, commit, abort := store.writer()
	defer abort()

	rawBook, err := txn.First("book", "id", loanEntry.BookID)
	if err != nil {
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", err)
	}
	if rawBook == nil {
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseBookNotFound)
	}

	// Same last line of defense as the partial unique index on postgres.
	onLoan, err := hasOpenLoan(txn, loanEntry.BookID)
	if err != nil {
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", err)
	}
	if onLoan {
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", library.ErrResponseBookAlreadyOnLoan)
	}

	row := loanRow{
		ID:           atomic.AddInt64(&store.ids.loans, 1),
		BookID:       loanEntry.BookID,
		BorrowerName: loanEntry.BorrowerName,
		LoanedAt:     loanEntry.LoanedAt,
	}
	if err := txn.Insert("loan", row); err != nil {
		return library.Loan{}, fmt.Errorf("storing loan on db: %w", err)
	}

	commit()
	return row.toLoan(), nil
}

func (store *InMemoryStore) GetLoanForUpdate(ctx context.Context, id int64) (library.Loan, error) {
	txn, done := store.reader()
	defer done()

	raw, err := txn.First("loan", "id", id)
	if err != nil {
		return library.Loan{}, fmt.Errorf("searching loan by ID: %w", err)
	}
	if raw == nil {
		return library.Loan{}, fmt.Errorf("searching loan by ID: %w", library.ErrResponseLoanNotFound)
	}

	return raw.(loanRow).toLoan(), nil
}

func (store *InMemoryStore) SetLoanReturned(ctx context.Context, id int64, returnedAt time.Time) (library.Loan, error) {
	txn, commit, abort := store.writer()
	defer abort()

	raw, err := txn.First("loan", "id", id)
	if err != nil {
		return library.Loan{}, fmt.Errorf("returning loan on db: %w", err)
	}
	if raw == nil {
		return library.Loan{}, fmt.Errorf("returning loan on db: %w", library.ErrResponseLoanNotFound)
	}

	row := raw.(loanRow)
	if row.ReturnedAt != nil {
		return library.Loan{}, fmt.Errorf("returning loan on db: %w", library.ErrResponseLoanAlreadyReturned)
	}
	t := returnedAt
	row.ReturnedAt = &t
	if err := txn.Insert("loan", row); err != nil {
		return library.Loan{}, fmt.Errorf("returning loan on db: %w", err)
	}

	commit()
	return row.toLoan(), nil
}

func (store *InMemoryStore) ListLoans(ctx context.Context, activeOnly bool, skip, limit int) ([]library.Loan, error) {
	txn, done := store.reader()
	defer done()

	it, err := txn.Get("loan", "id")
	if err != nil {
		return nil, fmt.Errorf("listing loans from db: %w", err)
	}

	all := []library.Loan{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		row := obj.(loanRow)
		if activeOnly && row.ReturnedAt != nil {
			continue
		}
		all = append(all, row.toLoan())
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LoanedAt.Equal(all[j].LoanedAt) {
			return all[i].LoanedAt.After(all[j].LoanedAt)
		}
		return all[i].ID > all[j].ID
	})

	if skip >= len(all) {
		return []library.Loan{}, nil
	}
	all = all[skip:]
	if len(all) > limit {
		all = all[:limit]
	}

	return all, nil
}
