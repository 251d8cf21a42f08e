package library_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/library-service/cmd/api/library"
	librarymock "github.com/library-service/cmd/api/library/mocks"
	"github.com/library-service/cmd/api/notifications"
	"github.com/matryer/is"
	gomock "go.uber.org/mock/gomock"
)

var ctx context.Context = context.Background()

var ntfy *notifications.Ntfy

const maxPageSize = 50

func TestMain(m *testing.M) {
	ntfy = notifications.NewNtfy(false, 1*time.Second, "someURL")

	os.Exit(m.Run())
}

/* fakeTx stands in for the transaction handle returned by BeginTx. */
type fakeTx struct {
	commits   int
	rollbacks int
}

func (tx *fakeTx) Commit() error   { tx.commits++; return nil }
func (tx *fakeTx) Rollback() error { tx.rollbacks++; return nil }

func TestCreateAuthor(t *testing.T) {
	t.Run("creates an author without errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		reqAuthor := library.CreateAuthorRequest{
			Name: "  George Orwell  ",
			Bio:  "English novelist and essayist.",
		}

		mockRepo.EXPECT().CreateAuthor(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, a library.Author) (library.Author, error) {
			is.Equal(a.Name, "George Orwell")
			is.Equal(a.Bio, reqAuthor.Bio)
			is.True(a.CreatedAt.Compare(time.Now().Round(time.Millisecond)) <= 0)
			a.ID = 1
			return a, nil
		})

		createdAuthor, err := mS.CreateAuthor(ctx, reqAuthor)
		is.NoErr(err)
		is.Equal(createdAuthor.ID, int64(1))
		is.Equal(createdAuthor.Name, "George Orwell")
	})

	t.Run("rejects a blank name", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		_, err := mS.CreateAuthor(ctx, library.CreateAuthorRequest{Name: "   "})
		is.True(errors.Is(err, library.ErrResponseAuthorEntryBlankFields))
	})
}

func TestGetAuthor(t *testing.T) {
	t.Run("gets an author with its books", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		mockRepo.EXPECT().GetAuthorWithBooks(gomock.Any(), int64(7))

		_, err := mS.GetAuthor(ctx, 7)
		is.NoErr(err)
	})
}

func TestListAuthors(t *testing.T) {
	is := is.New(t)
	ctrl := gomock.NewController(t)
	mockRepo := librarymock.NewMockRepository(ctrl)
	mS := library.NewService(mockRepo, ntfy, maxPageSize)

	t.Run("passes skip and limit through when inside bounds", func(t *testing.T) {
		mockRepo.EXPECT().ListAuthors(gomock.Any(), 10, 20).Return([]library.Author{}, nil)

		_, err := mS.ListAuthors(ctx, library.PageRequest{Skip: 10, Limit: 20})
		is.NoErr(err)
	})

	t.Run("clamps a negative skip to zero", func(t *testing.T) {
		mockRepo.EXPECT().ListAuthors(gomock.Any(), 0, 20).Return([]library.Author{}, nil)

		_, err := mS.ListAuthors(ctx, library.PageRequest{Skip: -5, Limit: 20})
		is.NoErr(err)
	})

	t.Run("clamps a missing or oversized limit to the maximum", func(t *testing.T) {
		mockRepo.EXPECT().ListAuthors(gomock.Any(), 0, maxPageSize).Return([]library.Author{}, nil)
		mockRepo.EXPECT().ListAuthors(gomock.Any(), 0, maxPageSize).Return([]library.Author{}, nil)

		_, err := mS.ListAuthors(ctx, library.PageRequest{Skip: 0, Limit: 0})
		is.NoErr(err)
		_, err = mS.ListAuthors(ctx, library.PageRequest{Skip: 0, Limit: 500})
		is.NoErr(err)
	})

	t.Run("expected error from database", func(t *testing.T) {
		dbErr := errors.New("fake error from database")
		errRepo := library.ErrResponse{
			Code:    library.ErrResponseFromRepository.Code,
			Message: library.ErrResponseFromRepository.Message + dbErr.Error(),
		}

		mockRepo.EXPECT().ListAuthors(gomock.Any(), 0, maxPageSize).Return(nil, dbErr)

		_, err := mS.ListAuthors(ctx, library.PageRequest{})
		is.Equal(err, errRepo)
	})

	t.Run("expected context timeout error", func(t *testing.T) {
		mockRepo.EXPECT().ListAuthors(gomock.Any(), 0, maxPageSize).Return(nil, context.DeadlineExceeded)

		_, err := mS.ListAuthors(ctx, library.PageRequest{})
		is.Equal(err.Error(), "timeout on call to ListAuthors: "+context.DeadlineExceeded.Error())
	})
}

func TestDeleteAuthor(t *testing.T) {
	t.Run("deletes loans, books and the author in one transaction", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		authorID := int64(3)
		tx := &fakeTx{}

		gomock.InOrder(
			mockRepo.EXPECT().BeginTx(gomock.Any()).Return(mockRepo, tx, nil),
			mockRepo.EXPECT().GetAuthorByID(gomock.Any(), authorID).Return(library.Author{ID: authorID}, nil),
			mockRepo.EXPECT().DeleteAuthorLoans(gomock.Any(), authorID).Return(nil),
			mockRepo.EXPECT().DeleteAuthorBooks(gomock.Any(), authorID).Return(nil),
			mockRepo.EXPECT().DeleteAuthor(gomock.Any(), authorID).Return(nil),
		)

		err := mS.DeleteAuthor(ctx, authorID)
		is.NoErr(err)
		is.Equal(tx.commits, 1)
		is.Equal(tx.rollbacks, 0)
	})

	t.Run("rolls back when the author does not exist", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		authorID := int64(404)
		tx := &fakeTx{}

		mockRepo.EXPECT().BeginTx(gomock.Any()).Return(mockRepo, tx, nil)
		mockRepo.EXPECT().GetAuthorByID(gomock.Any(), authorID).Return(library.Author{}, library.ErrResponseAuthorNotFound)

		err := mS.DeleteAuthor(ctx, authorID)
		is.True(errors.Is(err, library.ErrResponseAuthorNotFound))
		is.Equal(tx.commits, 0)
		is.Equal(tx.rollbacks, 1)
	})

	t.Run("rolls back when deleting the books fails midway", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		authorID := int64(3)
		tx := &fakeTx{}
		dbErr := errors.New("fake error from database")

		gomock.InOrder(
			mockRepo.EXPECT().BeginTx(gomock.Any()).Return(mockRepo, tx, nil),
			mockRepo.EXPECT().GetAuthorByID(gomock.Any(), authorID).Return(library.Author{ID: authorID}, nil),
			mockRepo.EXPECT().DeleteAuthorLoans(gomock.Any(), authorID).Return(nil),
			mockRepo.EXPECT().DeleteAuthorBooks(gomock.Any(), authorID).Return(dbErr),
		)

		err := mS.DeleteAuthor(ctx, authorID)
		is.True(errors.Is(err, dbErr))
		is.Equal(tx.commits, 0)
		is.Equal(tx.rollbacks, 1)
	})
}

func TestCreateBook(t *testing.T) {
	t.Run("creates an available book without errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		reqBook := library.CreateBookRequest{
			Title:    "Nineteen Eighty-Four",
			Genre:    "dystopia",
			ISBN:     "978-0-452-28423-4",
			AuthorID: 1,
		}

		mockRepo.EXPECT().CreateBook(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, b library.Book) (library.Book, error) {
			is.Equal(b.Title, reqBook.Title)
			is.Equal(b.Genre, reqBook.Genre)
			is.Equal(b.ISBN, reqBook.ISBN)
			is.Equal(b.AuthorID, reqBook.AuthorID)
			is.True(b.Available)
			is.True(b.CreatedAt.Compare(time.Now().Round(time.Millisecond)) <= 0)
			is.Equal(b.CreatedAt, b.UpdatedAt)
			b.ID = 1
			return b, nil
		})

		createdBook, err := mS.CreateBook(ctx, reqBook)
		is.NoErr(err)
		is.Equal(createdBook.ID, int64(1))
		is.Equal(createdBook.Status(), library.StatusAvailable)
	})

	t.Run("rejects blank required fields", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		entries := []library.CreateBookRequest{
			{Title: "", ISBN: "978-0-452-28423-4", AuthorID: 1},
			{Title: "Nineteen Eighty-Four", ISBN: "  ", AuthorID: 1},
			{Title: "Nineteen Eighty-Four", ISBN: "978-0-452-28423-4", AuthorID: 0},
		}
		for _, req := range entries {
			_, err := mS.CreateBook(ctx, req)
			is.True(errors.Is(err, library.ErrResponseBookEntryBlankFields))
		}
	})
}

func TestGetBook(t *testing.T) {
	t.Run("gets a book with its loan history", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		mockRepo.EXPECT().GetBookWithLoans(gomock.Any(), int64(9))

		_, err := mS.GetBook(ctx, 9)
		is.NoErr(err)
	})
}

func TestUpdateBook(t *testing.T) {
	t.Run("updates only the fields present in the entry", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		stored := library.Book{
			ID:       5,
			Title:    "Nineteen Eighty-Four",
			Genre:    "dystopia",
			ISBN:     "978-0-452-28423-4",
			AuthorID: 1,
		}
		newTitle := "1984"

		mockRepo.EXPECT().GetBookByID(gomock.Any(), stored.ID).Return(stored, nil)
		mockRepo.EXPECT().UpdateBook(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, b library.Book) (library.Book, error) {
			is.Equal(b.ID, stored.ID)
			is.Equal(b.Title, newTitle)
			is.Equal(b.Genre, stored.Genre)
			is.Equal(b.ISBN, stored.ISBN)
			is.Equal(b.AuthorID, stored.AuthorID)
			is.True(b.UpdatedAt.Compare(time.Now().Round(time.Millisecond)) <= 0)
			return b, nil
		})

		updatedBook, err := mS.UpdateBook(ctx, library.UpdateBookRequest{ID: stored.ID, Title: &newTitle})
		is.NoErr(err)
		is.Equal(updatedBook.Title, newTitle)
		is.Equal(updatedBook.ISBN, stored.ISBN)
	})

	t.Run("rejects blanking out the title", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		blank := " "
		mockRepo.EXPECT().GetBookByID(gomock.Any(), int64(5)).Return(library.Book{ID: 5, Title: "Nineteen Eighty-Four"}, nil)

		_, err := mS.UpdateBook(ctx, library.UpdateBookRequest{ID: 5, Title: &blank})
		is.True(errors.Is(err, library.ErrResponseBookEntryBlankFields))
	})

	t.Run("propagates book not found", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := librarymock.NewMockRepository(ctrl)
		mS := library.NewService(mockRepo, ntfy, maxPageSize)

		mockRepo.EXPECT().GetBookByID(gomock.Any(), int64(404)).Return(library.Book{}, library.ErrResponseBookNotFound)

		_, err := mS.UpdateBook(ctx, library.UpdateBookRequest{ID: 404})
		is.True(errors.Is(err, library.ErrResponseBookNotFound))
	})
}
