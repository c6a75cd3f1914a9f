package model

import "time"

// ContactInput is the request body for creating a contact. All three fields are required and the
// email has to be a syntactically valid address.
type ContactInput struct {
	FirstName string `json:"firstname" validate:"required"`
	LastName  string `json:"lastname"  validate:"required"`
	Email     string `json:"email"     validate:"required,email"`
}

// Contact is a contact record as it is stored by the CRM. The id is assigned by the CRM and is
// opaque to us.
type Contact struct {
	Id         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
	Archived   bool              `json:"archived"`
}

// Page is one page of contacts as returned by the list operation.
type Page struct {
	Results []Contact `json:"results"`
	Paging  *Paging   `json:"paging,omitempty"`
}

// SearchResult is the response of a search by email. A search without matches has a total of 0
// and an empty results list.
type SearchResult struct {
	Total   int       `json:"total"`
	Results []Contact `json:"results"`
	Paging  *Paging   `json:"paging,omitempty"`
}

// Paging holds the cursor for the next page, if there is one.
type Paging struct {
	Next *PagingNext `json:"next,omitempty"`
}

// PagingNext is the pointer to the next page of results.
type PagingNext struct {
	After string `json:"after"`
	Link  string `json:"link,omitempty"`
}

// Status values of the create and delete operations.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusDeleted = "deleted"
)

// CreateResult reports whether a contact was created or an existing one was updated.
type CreateResult struct {
	Status string `json:"status"`
	Id     string `json:"id"`
}

// DeleteResult confirms the deletion of a contact. Email is only set when the contact was deleted
// by email.
type DeleteResult struct {
	Status string `json:"status"`
	Id     string `json:"id"`
	Email  string `json:"email,omitempty"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Message        string `json:"message"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}
