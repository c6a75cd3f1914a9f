package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/config"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/hubspot"
	imodel "gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/model"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

const (
	// DefaultLimit is the page size of a list call without a 'limit' URL parameter.
	DefaultLimit = 20
	// MinLimit and MaxLimit bound the 'limit' URL parameter.
	MinLimit = 1
	MaxLimit = 100
	// DefaultProperties are the contact properties returned when the client does not ask for others.
	DefaultProperties = "email,firstname,lastname"
)

const (
	msgNotConfigured   = "Server not configured with HUBSPOT_PRIVATE_APP_TOKEN"
	msgUnreachable     = "Failed to reach HubSpot API"
	msgSearchFailed    = "Failed to search existing contact"
	msgUpdateFailed    = "Failed to update existing contact"
	msgConflict        = "Conflict creating contact"
	msgNotFound        = "Contact not found"
	msgInvalidResponse = "Invalid response from HubSpot API"
)

// CRM is the part of the HubSpot client the proxy depends on.
type CRM interface {
	CreateContact(ctx context.Context, properties map[string]string) (*model.Contact, error)
	UpdateContact(ctx context.Context, id string, properties map[string]string) error
	GetContact(ctx context.Context, id string, properties string) (json.RawMessage, error)
	ListContacts(ctx context.Context, limit int, after string, properties string) (json.RawMessage, error)
	SearchContacts(ctx context.Context, req imodel.SearchRequest) (json.RawMessage, error)
	DeleteContact(ctx context.Context, id string) error
}

// ListParams are the arguments of ListContacts.
type ListParams struct {
	Limit      int
	After      string
	Properties string
}

// ContactProxy translates contact operations into calls against the CRM and collapses the outcomes
// into the error kinds of this package. It holds no mutable state and is safe for concurrent use.
type ContactProxy struct {
	crm        CRM
	configured bool
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewContactProxy creates a proxy for the given configuration. If the configuration has no
// HubSpot token, every operation that needs the CRM fails with ErrConfiguration.
func NewContactProxy(cfg config.Config, crm CRM) *ContactProxy {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		return name
	})
	return &ContactProxy{
		crm:        crm,
		configured: cfg.Configured(),
		validate:   validate,
		logger:     log.With().Str("component", "contact-proxy").Logger(),
	}
}

// CreateContact creates a contact. If HubSpot already has a contact with this email, the first
// contact found by an exact email search gets the new first and last name instead; its email is
// left alone.
func (p *ContactProxy) CreateContact(ctx context.Context, input model.ContactInput) (*model.CreateResult, error) {
	const op = "create"
	if err := p.validateInput(op, input); err != nil {
		return nil, err
	}
	if err := p.requireToken(op); err != nil {
		return nil, err
	}

	created, err := p.crm.CreateContact(ctx, map[string]string{
		"email":     input.Email,
		"firstname": input.FirstName,
		"lastname":  input.LastName,
	})
	switch {
	case err == nil:
		if created.Id == "" {
			return nil, &Error{Kind: ErrUpstream, Op: op, Message: msgInvalidResponse}
		}
		return &model.CreateResult{Status: model.StatusCreated, Id: created.Id}, nil
	case hubspot.HasStatus(err, 409):
		return p.updateExisting(ctx, input, err)
	default:
		return nil, p.remoteError(op, err, false)
	}
}

// updateExisting resolves a create that was rejected as duplicate: search the contact by email,
// then update the first match.
func (p *ContactProxy) updateExisting(ctx context.Context, input model.ContactInput, createErr error) (*model.CreateResult, error) {
	const op = "create"
	data, err := p.crm.SearchContacts(ctx, imodel.EmailEquals(input.Email))
	if errors.Is(err, hubspot.ErrUnreachable) {
		return nil, &Error{Kind: ErrConnectivity, Op: op, Message: msgSearchFailed, Err: err}
	}
	var matches []model.Contact
	if err == nil {
		result, decodeErr := hubspot.DecodeSearchResult(data)
		if decodeErr != nil {
			return nil, &Error{Kind: ErrUpstream, Op: op, Message: msgInvalidResponse, Err: decodeErr}
		}
		matches = result.Results
	}
	if len(matches) == 0 {
		// Either the search failed or HubSpot reports a duplicate it cannot find.
		p.logger.Error().
			Err(err).
			Str("email", input.Email).
			Msg("409 on create but the search did not return the existing contact")
		return nil, &Error{Kind: ErrConflict, Op: op, Status: 409, Message: msgConflict, Err: createErr}
	}

	id := matches[0].Id
	err = p.crm.UpdateContact(ctx, id, map[string]string{
		"firstname": input.FirstName,
		"lastname":  input.LastName,
	})
	if err != nil {
		kind := ErrUpstream
		if errors.Is(err, hubspot.ErrUnreachable) {
			kind = ErrConnectivity
		}
		return nil, &Error{Kind: kind, Op: op, Status: statusOf(err), Message: msgUpdateFailed, Err: err}
	}
	p.logger.Debug().Str("id", id).Msg("updated existing contact after create conflict")
	return &model.CreateResult{Status: model.StatusUpdated, Id: id}, nil
}

// ListContacts returns one page of contacts exactly as HubSpot sent it.
func (p *ContactProxy) ListContacts(ctx context.Context, params ListParams) (json.RawMessage, error) {
	const op = "list"
	if params.Limit < MinLimit || params.Limit > MaxLimit {
		return nil, &Error{Kind: ErrValidation, Op: op,
			Message: fmt.Sprintf("limit must be between %d and %d", MinLimit, MaxLimit)}
	}
	if err := p.requireToken(op); err != nil {
		return nil, err
	}
	if params.Properties == "" {
		params.Properties = DefaultProperties
	}
	data, err := p.crm.ListContacts(ctx, params.Limit, params.After, params.Properties)
	if err != nil {
		return nil, p.remoteError(op, err, false)
	}
	return data, nil
}

// GetContact returns the contact with the given id exactly as HubSpot sent it.
func (p *ContactProxy) GetContact(ctx context.Context, id string, properties string) (json.RawMessage, error) {
	const op = "get"
	if strings.TrimSpace(id) == "" {
		return nil, &Error{Kind: ErrValidation, Op: op, Message: "id is required"}
	}
	if err := p.requireToken(op); err != nil {
		return nil, err
	}
	if properties == "" {
		properties = DefaultProperties
	}
	data, err := p.crm.GetContact(ctx, id, properties)
	if err != nil {
		return nil, p.remoteError(op, err, true)
	}
	return data, nil
}

// SearchContactsByEmail returns the result of an exact email search exactly as HubSpot sent it.
// A search without matches is not an error.
func (p *ContactProxy) SearchContactsByEmail(ctx context.Context, email string) (json.RawMessage, error) {
	const op = "search"
	if strings.TrimSpace(email) == "" {
		return nil, &Error{Kind: ErrValidation, Op: op, Message: "email is required"}
	}
	if err := p.requireToken(op); err != nil {
		return nil, err
	}
	data, err := p.crm.SearchContacts(ctx, imodel.EmailEquals(email))
	if err != nil {
		return nil, p.remoteError(op, err, false)
	}
	return data, nil
}

// DeleteContactByID deletes the contact with the given id.
func (p *ContactProxy) DeleteContactByID(ctx context.Context, id string) (*model.DeleteResult, error) {
	const op = "delete"
	if strings.TrimSpace(id) == "" {
		return nil, &Error{Kind: ErrValidation, Op: op, Message: "id is required"}
	}
	if err := p.requireToken(op); err != nil {
		return nil, err
	}
	if err := p.crm.DeleteContact(ctx, id); err != nil {
		return nil, p.remoteError(op, err, true)
	}
	return &model.DeleteResult{Status: model.StatusDeleted, Id: id}, nil
}

// DeleteContactByEmail deletes the first contact found by an exact email search. Only a search
// without matches is ErrNotFound; any failure of the delete itself is ErrUpstream.
func (p *ContactProxy) DeleteContactByEmail(ctx context.Context, email string) (*model.DeleteResult, error) {
	const op = "delete-by-email"
	if strings.TrimSpace(email) == "" {
		return nil, &Error{Kind: ErrValidation, Op: op, Message: "email is required"}
	}
	if err := p.requireToken(op); err != nil {
		return nil, err
	}
	data, err := p.crm.SearchContacts(ctx, imodel.EmailEquals(email))
	if err != nil {
		return nil, p.remoteError(op, err, false)
	}
	result, err := hubspot.DecodeSearchResult(data)
	if err != nil {
		return nil, &Error{Kind: ErrUpstream, Op: op, Message: msgInvalidResponse, Err: err}
	}
	if len(result.Results) == 0 {
		return nil, &Error{Kind: ErrNotFound, Op: op, Message: msgNotFound}
	}
	id := result.Results[0].Id
	if err := p.crm.DeleteContact(ctx, id); err != nil {
		return nil, p.remoteError(op, err, false)
	}
	return &model.DeleteResult{Status: model.StatusDeleted, Id: id, Email: email}, nil
}

func (p *ContactProxy) requireToken(op string) error {
	if p.configured {
		return nil
	}
	return &Error{Kind: ErrConfiguration, Op: op, Message: msgNotConfigured}
}

func (p *ContactProxy) validateInput(op string, input model.ContactInput) error {
	err := p.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Kind: ErrValidation, Op: op, Message: "invalid contact", Err: err}
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fe.Field()+" is required")
		case "email":
			messages = append(messages, fe.Field()+" must be a valid email address")
		default:
			messages = append(messages, fe.Field()+" is invalid")
		}
	}
	return &Error{Kind: ErrValidation, Op: op, Message: strings.Join(messages, "; ")}
}

// remoteError classifies a failed CRM call. A 404 only means "not found" for calls that address a
// contact by id.
func (p *ContactProxy) remoteError(op string, err error, notFoundIsMeaningful bool) error {
	if errors.Is(err, hubspot.ErrUnreachable) {
		return &Error{Kind: ErrConnectivity, Op: op, Message: msgUnreachable, Err: err}
	}
	var statusErr *hubspot.StatusError
	if !errors.As(err, &statusErr) {
		return &Error{Kind: ErrUpstream, Op: op, Message: msgInvalidResponse, Err: err}
	}
	if notFoundIsMeaningful && statusErr.StatusCode == 404 {
		return &Error{Kind: ErrNotFound, Op: op, Status: 404, Message: msgNotFound, Err: err}
	}
	return &Error{
		Kind:    ErrUpstream,
		Op:      op,
		Status:  statusErr.StatusCode,
		Message: fmt.Sprintf("HubSpot API error: %d", statusErr.StatusCode),
		Err:     err,
	}
}

func statusOf(err error) int {
	var statusErr *hubspot.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
