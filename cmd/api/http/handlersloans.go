package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/library-service/cmd/api/library"
)

type LoanEntry struct {
	BorrowerName string `json:"borrower_name"`
}

/* Validates the entry, then loans the asked book to the borrower. */
func (h *LibraryHandler) loanBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := isolateId(w, r)
	if err != nil {
		return
	}

	var loanEntry LoanEntry
	err = json.NewDecoder(r.Body).Decode(&loanEntry)
	if err != nil {
		log.Println(err)
		errR := library.ErrResponse{
			Code:    library.ErrResponseEntryInvalidJSON.Code,
			Message: library.ErrResponseEntryInvalidJSON.Message + err.Error(),
		}
		responseJSON(w, http.StatusBadRequest, errR)
		return
	}

	newLoan, err := h.libraryService.LoanBook(r.Context(), library.LoanBookRequest{
		BookID:       bookID,
		BorrowerName: loanEntry.BorrowerName,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusCreated, loanToResponse(newLoan))
}

/* Closes the asked loan, marking the book as returned. */
func (h *LibraryHandler) returnLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := isolateId(w, r)
	if err != nil {
		return
	}

	closedLoan, err := h.libraryService.ReturnLoan(r.Context(), loanID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	responseJSON(w, http.StatusOK, loanToResponse(closedLoan))
}

/* Returns a page of the stored loans, optionally only the open ones. */
func (h *LibraryHandler) listLoans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, valid := extractPageParams(query)
	if !valid {
		responseJSON(w, http.StatusBadRequest, library.ErrResponseQueryPageInvalid)
		return
	}

	loans, err := h.libraryService.ListLoans(r.Context(), library.ListLoansRequest{
		ActiveOnly: query.Get("active_only") == "true",
		Page:       page,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	results := []LoanResponse{}
	for _, l := range loans {
		results = append(results, loanToResponse(l))
	}
	responseJSON(w, http.StatusOK, results)
}
