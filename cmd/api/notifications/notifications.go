package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Ntfy publishes loan lifecycle events to a ntfy.sh style topic server.
// Delivery is best effort: the service fires these after commit and only
// logs failures.
type Ntfy struct {
	baseURL string
	enabled bool
	timeout time.Duration
	client  *http.Client
}

func NewNtfy(enableNotifications bool, notificationsTimeout time.Duration, notificationsBaseURL string) *Ntfy {
	return &Ntfy{
		baseURL: notificationsBaseURL,
		enabled: enableNotifications,
		timeout: notificationsTimeout,
		client:  &http.Client{},
	}
}

func (ntf *Ntfy) BookLoaned(title, borrower string) error {
	return ntf.publish("Book_loaned", fmt.Sprintf("Book loaned:\nTitle: %s\nBorrower: %s", title, borrower))
}

func (ntf *Ntfy) LoanReturned(title, borrower string) error {
	return ntf.publish("Loan_returned", fmt.Sprintf("Loan returned:\nTitle: %s\nBorrower: %s", title, borrower))
}

func (ntf *Ntfy) publish(topic, message string) error {
	if !ntf.enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ntf.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ntf.baseURL+"/"+topic, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("error delivering message (%s) to topic (%s/%s): %w", message, ntf.baseURL, topic, err)
	}

	res, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("error delivering message (%s) to topic (%s/%s): %w", message, ntf.baseURL, topic, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return NewErrNotificationFailed(res.StatusCode)
	}
	return nil
}

type ErrNotificationFailed struct {
	statusCode int
}

func (e ErrNotificationFailed) Error() string {
	return fmt.Sprintf("ntfy wrong response - want: 200 OK, got: %d", e.statusCode)
}

func NewErrNotificationFailed(statusCode int) ErrNotificationFailed {
	return ErrNotificationFailed{statusCode: statusCode}
}
