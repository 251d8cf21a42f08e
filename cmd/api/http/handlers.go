package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/library-service/cmd/api/library"
)

type LibraryHandler struct {
	libraryService library.ServiceAPI
}

func NewLibraryHandler(libraryService library.ServiceAPI) *LibraryHandler {
	return &LibraryHandler{libraryService: libraryService}
}

// -- Authors --

type AuthorEntry struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

/* Validates the entry, then stores it as a new author. */
func (h *LibraryHandler) createAuthor(w http.ResponseWriter, r *http.Request) {
	var authorEntry AuthorEntry
	err := json.NewDecoder(r.Body).Decode(&authorEntry)
	if err != nil {
		log.Println(err)
		errR := library.ErrResponse{
			Code:    library.ErrResponseEntryInvalidJSON.Code,
			Message: library.ErrResponseEntryInvalidJSON.Message + err.Error(),
		}
		responseJSON(w, http.StatusBadRequest, errR)
		return
	}

	createdAuthor, err := h.libraryService.CreateAuthor(r.Context(), library.CreateAuthorRequest{
		Name: authorEntry.Name,
		Bio:  authorEntry.Bio,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusCreated, authorToResponse(createdAuthor))
}

/* Returns a page of the stored authors. */
func (h *LibraryHandler) listAuthors(w http.ResponseWriter, r *http.Request) {
	page, valid := extractPageParams(r.URL.Query())
	if !valid {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseQueryPageInvalid)
		return
	}

	authors, err := h.libraryService.ListAuthors(r.Context(), page)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	results := []AuthorResponse{}
	for _, a := range authors {
		results = append(results, authorToResponse(a))
	}
	responseJSON(w, http.StatusOK, results)
}

/* Returns the author with that specific ID, with all its books. */
func (h *LibraryHandler) getAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(w, r)
	if err != nil {
		return
	}

	returnedAuthor, err := h.libraryService.GetAuthor(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusOK, authorToResponse(returnedAuthor))
}

/* Deletes the author and, in cascade, all its books and their loans. */
func (h *LibraryHandler) deleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(w, r)
	if err != nil {
		return
	}

	err = h.libraryService.DeleteAuthor(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// -- Books --

type BookEntry struct {
	Title    string `json:"title"`
	Genre    string `json:"genre"`
	ISBN     string `json:"isbn"`
	AuthorID int64  `json:"author_id"`
}

type BookUpdateEntry struct {
	Title *string `json:"title"`
	Genre *string `json:"genre"`
	ISBN  *string `json:"isbn"`
}

/* Validates the entry, then stores it as a new book. */
func (h *LibraryHandler) createBook(w http.ResponseWriter, r *http.Request) {
	var bookEntry BookEntry
	err := json.NewDecoder(r.Body).Decode(&bookEntry)
	if err != nil {
		log.Println(err)
		errR := library.ErrResponse{
			Code:    library.ErrResponseEntryInvalidJSON.Code,
			Message: library.ErrResponseEntryInvalidJSON.Message + err.Error(),
		}
		responseJSON(w, http.StatusBadRequest, errR)
		return
	}

	createdBook, err := h.libraryService.CreateBook(r.Context(), library.CreateBookRequest{
		Title:    bookEntry.Title,
		Genre:    bookEntry.Genre,
		ISBN:     bookEntry.ISBN,
		AuthorID: bookEntry.AuthorID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusCreated, bookToResponse(createdBook))
}

/* Returns a page of the stored books, optionally filtered by exact genre. */
func (h *LibraryHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, valid := extractPageParams(query)
	if !valid {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseQueryPageInvalid)
		return
	}

	books, err := h.libraryService.ListBooks(r.Context(), library.ListBooksRequest{
		Genre: query.Get("genre"),
		Page:  page,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	results := []BookResponse{}
	for _, b := range books {
		results = append(results, bookToResponse(b))
	}
	responseJSON(w, http.StatusOK, results)
}

/* Returns the book with that specific ID, with its loan history. */
func (h *LibraryHandler) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(w, r)
	if err != nil {
		return
	}

	returnedBook, err := h.libraryService.GetBook(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusOK, bookToResponse(returnedBook))
}

/* Validates the entry, then partially updates the asked book. */
func (h *LibraryHandler) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(w, r)
	if err != nil {
		return
	}

	var bookEntry BookUpdateEntry
	err = json.NewDecoder(r.Body).Decode(&bookEntry)
	if err != nil {
		log.Println(err)
		errR := library.ErrResponse{
			Code:    library.ErrResponseEntryInvalidJSON.Code,
			Message: library.ErrResponseEntryInvalidJSON.Message + err.Error(),
		}
		responseJSON(w, http.StatusBadRequest, errR)
		return
	}

	updatedBook, err := h.libraryService.UpdateBook(r.Context(), library.UpdateBookRequest{
		ID:    id,
		Title: bookEntry.Title,
		Genre: bookEntry.Genre,
		ISBN:  bookEntry.ISBN,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusOK, bookToResponse(updatedBook))
}

// -- Helpers and response types --

/* Isolates the entity ID from the URL. */
func isolateId(w http.ResponseWriter, r *http.Request) (id int64, err error) {
	raw := chi.URLParam(r, "id")
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		log.Printf("invalid endpoint id %q", raw)
		responseJSON(w, http.StatusBadRequest, library.ErrResponseIdInvalidFormat)
		return 0, library.ErrResponseIdInvalidFormat
	}
	return id, nil
}

/* Validates and prepares the pagination parameters of the query. */
func extractPageParams(query url.Values) (page library.PageRequest, valid bool) {
	skipStr := query.Get("skip")
	if skipStr != "" {
		skip, err := strconv.Atoi(skipStr)
		if err != nil || skip < 0 {
			return page, false
		}
		page.Skip = skip
	}

	limitStr := query.Get("limit")
	if limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return page, false
		}
		page.Limit = limit
	}

	return page, true
}

// respondServiceError translates domain errors to statuses: not found to
// 404, state machine conflicts to 409, repository failures to 500 and any
// other domain validation to 400.
func respondServiceError(w http.ResponseWriter, err error) {
	log.Println(err)

	var errResp library.ErrResponse
	if !errors.As(err, &errResp) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch {
	case library.IsNotFound(err):
		responseJSON(w, http.StatusNotFound, errResp)
	case library.IsConflict(err):
		responseJSON(w, http.StatusConflict, errResp)
	case errResp.Code == library.ErrResponseFromRepository.Code:
		w.WriteHeader(http.StatusInternalServerError)
	default:
		responseJSON(w, http.StatusBadRequest, errResp)
	}
}

type AuthorResponse struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Bio   string         `json:"bio"`
	Books []BookResponse `json:"books,omitempty"`
}

/* Copy the fields of an author object to an http layer struct with json tags. */
func authorToResponse(a library.Author) AuthorResponse {
	resp := AuthorResponse{
		ID:   a.ID,
		Name: a.Name,
		Bio:  a.Bio,
	}
	for _, b := range a.Books {
		resp.Books = append(resp.Books, bookToResponse(b))
	}
	return resp
}

type BookResponse struct {
	ID                 int64          `json:"id"`
	Title              string         `json:"title"`
	Genre              string         `json:"genre"`
	ISBN               string         `json:"isbn"`
	AuthorID           int64          `json:"author_id"`
	AvailabilityStatus string         `json:"availability_status"`
	Loans              []LoanResponse `json:"loans,omitempty"`
}

/* Copy the fields of a book object to an http layer struct with json tags. */
func bookToResponse(b library.Book) BookResponse {
	resp := BookResponse{
		ID:                 b.ID,
		Title:              b.Title,
		Genre:              b.Genre,
		ISBN:               b.ISBN,
		AuthorID:           b.AuthorID,
		AvailabilityStatus: b.Status(),
	}
	for _, l := range b.Loans {
		resp.Loans = append(resp.Loans, loanToResponse(l))
	}
	return resp
}

type LoanResponse struct {
	ID           int64      `json:"id"`
	BookID       int64      `json:"book_id"`
	BorrowerName string     `json:"borrower_name"`
	LoanedAt     time.Time  `json:"loaned_at"`
	ReturnedAt   *time.Time `json:"returned_at"`
}

/* Copy the fields of a loan object to an http layer struct with json tags. */
func loanToResponse(l library.Loan) LoanResponse {
	return LoanResponse{
		ID:           l.ID,
		BookID:       l.BookID,
		BorrowerName: l.BorrowerName,
		LoanedAt:     l.LoanedAt,
		ReturnedAt:   l.ReturnedAt,
	}
}
