package library

import "errors"

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

var ErrResponseAuthorEntryBlankFields = ErrResponse{100, "the field 'name' must be filled correctly."}
var ErrResponseAuthorNotFound = ErrResponse{101, "author not found"}
var ErrResponseBookEntryBlankFields = ErrResponse{102, "the fields 'title', 'isbn' and 'author_id' must be filled correctly."}
var ErrResponseBookNotFound = ErrResponse{103, "book not found"}
var ErrResponseISBNConflict = ErrResponse{104, "there is already a book with this isbn on database."}
var ErrResponseLoanEntryBlankFields = ErrResponse{105, "the field 'borrower_name' must be filled correctly."}
var ErrResponseLoanNotFound = ErrResponse{106, "loan not found"}
var ErrResponseBookAlreadyOnLoan = ErrResponse{107, "book already on loan"}
var ErrResponseLoanAlreadyReturned = ErrResponse{108, "loan already returned"}
var ErrResponseLockTimeout = ErrResponse{109, "book is locked by a concurrent operation, try again."}
var ErrResponseEntryInvalidJSON = ErrResponse{110, "invalid json request."}
var ErrResponseIdInvalidFormat = ErrResponse{111, "the endpoint ID is not a valid format. Must be a positive integer."}
var ErrResponseQueryPageInvalid = ErrResponse{112, "query parameters 'skip' and 'limit' must be non-negative integers."}
var ErrResponseAPIKeyMissing = ErrResponse{113, "API Key is missing. Include it in the 'X-API-Key' header."}
var ErrResponseAPIKeyInvalid = ErrResponse{114, "invalid API Key. Access denied."}
var ErrResponseFromRepository = ErrResponse{115, "error from the repository: "}
var ErrResponseRequestTimeout = ErrResponse{116, "context deadline exceeded"}

/* Reports whether the error is one of the conflict kind: a state machine
violation such as a duplicated isbn, a double loan or a double return. */
func IsConflict(err error) bool {
	return errors.Is(err, ErrResponseISBNConflict) ||
		errors.Is(err, ErrResponseBookAlreadyOnLoan) ||
		errors.Is(err, ErrResponseLoanAlreadyReturned) ||
		errors.Is(err, ErrResponseLockTimeout)
}

/* Reports whether the error refers to an entity that does not exist. */
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResponseAuthorNotFound) ||
		errors.Is(err, ErrResponseBookNotFound) ||
		errors.Is(err, ErrResponseLoanNotFound)
}
