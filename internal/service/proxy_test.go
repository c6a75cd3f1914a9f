package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/config"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/hubspot"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/hubspot/hubspottest"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

const testToken = "pat-test-token"

// testConfig returns a configuration pointing at the given CRM address.
func testConfig(baseURL string, token string) config.Config {
	return config.Config{
		HubSpotToken:   token,
		HubSpotBaseURL: baseURL,
		HubSpotTimeout: hubspot.DefaultTimeout,
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:5173"},
		LogLevel:       "info",
	}
}

// createProxy starts a fake HubSpot API and returns a proxy that talks to it.
func createProxy(t *testing.T) (*ContactProxy, *hubspottest.Server) {
	fake := hubspottest.NewServer(testToken)
	t.Cleanup(fake.Close)
	cfg := testConfig(fake.URL, testToken)
	client := hubspot.New(hubspot.Config{BaseURL: cfg.HubSpotBaseURL, Token: cfg.HubSpotToken})
	return NewContactProxy(cfg, client), fake
}

// createUnreachableProxy returns a proxy whose CRM address refuses connections.
func createUnreachableProxy(t *testing.T) *ContactProxy {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	cfg := testConfig(url, testToken)
	return NewContactProxy(cfg, hubspot.New(hubspot.Config{BaseURL: url, Token: testToken}))
}

var ana = model.ContactInput{FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"}

// TestCreateNewContact expects a fresh email to create a contact with a new id.
func TestCreateNewContact(t *testing.T) {
	proxy, fake := createProxy(t)

	result, err := proxy.CreateContact(context.Background(), ana)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, result.Status)
	assert.NotEmpty(t, result.Id)

	props, found := fake.Properties(result.Id)
	require.True(t, found)
	assert.Equal(t, "Ana", props["firstname"])
	assert.Equal(t, "Lopez", props["lastname"])
	assert.Equal(t, "ana@example.com", props["email"])
}

// TestCreateTwiceUpdates creates the same contact twice. The second call must update the contact
// created by the first one.
func TestCreateTwiceUpdates(t *testing.T) {
	proxy, fake := createProxy(t)
	ctx := context.Background()

	first, err := proxy.CreateContact(ctx, ana)
	require.NoError(t, err)
	second, err := proxy.CreateContact(ctx, ana)
	require.NoError(t, err)

	assert.Equal(t, model.CreateResult{Status: model.StatusCreated, Id: first.Id}, *first)
	assert.Equal(t, model.CreateResult{Status: model.StatusUpdated, Id: first.Id}, *second)
	assert.Equal(t, 1, fake.Len())
}

// TestCreateExistingEmailUpdatesNames expects the names of an existing contact to be overwritten
// while its email stays as it is.
func TestCreateExistingEmailUpdatesNames(t *testing.T) {
	proxy, fake := createProxy(t)
	id := fake.Seed(map[string]string{"email": "Ana@Example.com", "firstname": "Anna", "lastname": "Lopes"})

	result, err := proxy.CreateContact(context.Background(), ana)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUpdated, result.Status)
	assert.Equal(t, id, result.Id)

	props, _ := fake.Properties(id)
	assert.Equal(t, "Ana", props["firstname"])
	assert.Equal(t, "Lopez", props["lastname"])
	assert.Equal(t, "Ana@Example.com", props["email"])
	assert.Equal(t, 1, fake.Calls(hubspottest.OpSearch))
	assert.Equal(t, 1, fake.Calls(hubspottest.OpUpdate))
}

// TestCreateConflictPicksFirstMatch expects the first search result to be updated when several
// contacts share the email.
func TestCreateConflictPicksFirstMatch(t *testing.T) {
	proxy, fake := createProxy(t)
	firstID := fake.Seed(map[string]string{"email": "ana@example.com", "firstname": "One"})
	secondID := fake.Seed(map[string]string{"email": "ana@example.com", "firstname": "Two"})

	result, err := proxy.CreateContact(context.Background(), ana)
	require.NoError(t, err)
	assert.Equal(t, firstID, result.Id)

	second, _ := fake.Properties(secondID)
	assert.Equal(t, "Two", second["firstname"])
}

// TestCreateInvalidInput expects invalid input to be rejected before HubSpot is called.
func TestCreateInvalidInput(t *testing.T) {
	invalidInputs := []model.ContactInput{
		{FirstName: "Ana", LastName: "Lopez", Email: "not-an-email"},
		{FirstName: "Ana", LastName: "Lopez", Email: ""},
		{FirstName: "", LastName: "Lopez", Email: "ana@example.com"},
		{FirstName: "Ana", LastName: "", Email: "ana@example.com"},
	}
	proxy, fake := createProxy(t)

	for _, input := range invalidInputs {
		_, err := proxy.CreateContact(context.Background(), input)
		assert.ErrorIs(t, err, ErrValidation, "input %+v", input)
	}
	assert.Equal(t, 0, fake.TotalCalls())
}

// TestCreateValidationMessage checks that the message names the offending field.
func TestCreateValidationMessage(t *testing.T) {
	proxy, _ := createProxy(t)
	_, err := proxy.CreateContact(context.Background(),
		model.ContactInput{FirstName: "Ana", LastName: "Lopez", Email: "not-an-email"})
	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, "email must be a valid email address", proxyErr.Message)
}

// TestCreateConflictNotResolvable expects a conflict error when HubSpot reports a duplicate that
// its search does not find.
func TestCreateConflictNotResolvable(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.Seed(map[string]string{"email": "ana@example.com"})
	fake.HideFromSearch(true)

	_, err := proxy.CreateContact(context.Background(), ana)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, fake.Calls(hubspottest.OpUpdate))
}

// TestCreateConflictSearchFails expects a failed search after a duplicate to leave the conflict
// unresolved.
func TestCreateConflictSearchFails(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.Seed(map[string]string{"email": "ana@example.com"})
	fake.SetFault(hubspottest.OpSearch, http.StatusInternalServerError)

	_, err := proxy.CreateContact(context.Background(), ana)
	assert.ErrorIs(t, err, ErrConflict)
}

// TestCreateConflictUpdateFails expects an upstream error carrying the status of the failed update.
func TestCreateConflictUpdateFails(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.Seed(map[string]string{"email": "ana@example.com"})
	fake.SetFault(hubspottest.OpUpdate, http.StatusTooManyRequests)

	_, err := proxy.CreateContact(context.Background(), ana)
	assert.ErrorIs(t, err, ErrUpstream)
	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, http.StatusTooManyRequests, proxyErr.Status)
	assert.Equal(t, "Failed to update existing contact", proxyErr.Message)
}

// TestCreateUpstreamError expects an unexpected create status to be passed on in the error.
func TestCreateUpstreamError(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.SetFault(hubspottest.OpCreate, http.StatusBadRequest)

	_, err := proxy.CreateContact(context.Background(), ana)
	assert.ErrorIs(t, err, ErrUpstream)
	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, http.StatusBadRequest, proxyErr.Status)
	assert.Equal(t, "HubSpot API error: 400", proxyErr.Message)
}

// TestNotConfigured expects every operation to fail with a configuration error without calling
// HubSpot when no token is configured.
func TestNotConfigured(t *testing.T) {
	fake := hubspottest.NewServer(testToken)
	defer fake.Close()
	cfg := testConfig(fake.URL, "")
	proxy := NewContactProxy(cfg, hubspot.New(hubspot.Config{BaseURL: fake.URL}))
	ctx := context.Background()

	_, err := proxy.CreateContact(ctx, ana)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = proxy.ListContacts(ctx, ListParams{Limit: DefaultLimit})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = proxy.GetContact(ctx, "1001", "")
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = proxy.SearchContactsByEmail(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = proxy.DeleteContactByID(ctx, "1001")
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = proxy.DeleteContactByEmail(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 0, fake.TotalCalls())
}

// TestUnreachable expects every operation to fail with a connectivity error when HubSpot cannot be
// reached.
func TestUnreachable(t *testing.T) {
	proxy := createUnreachableProxy(t)
	ctx := context.Background()

	_, err := proxy.CreateContact(ctx, ana)
	assert.ErrorIs(t, err, ErrConnectivity)
	_, err = proxy.ListContacts(ctx, ListParams{Limit: DefaultLimit})
	assert.ErrorIs(t, err, ErrConnectivity)
	_, err = proxy.GetContact(ctx, "1001", "")
	assert.ErrorIs(t, err, ErrConnectivity)
	_, err = proxy.SearchContactsByEmail(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrConnectivity)
	_, err = proxy.DeleteContactByID(ctx, "1001")
	assert.ErrorIs(t, err, ErrConnectivity)
	_, err = proxy.DeleteContactByEmail(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrConnectivity)
}

// TestListLimitRange expects limits outside 1..100 to be rejected before HubSpot is called.
func TestListLimitRange(t *testing.T) {
	proxy, fake := createProxy(t)
	for _, limit := range []int{-1, 0, 101} {
		_, err := proxy.ListContacts(context.Background(), ListParams{Limit: limit})
		assert.ErrorIs(t, err, ErrValidation, "limit %d", limit)
	}
	assert.Equal(t, 0, fake.TotalCalls())
	for _, limit := range []int{1, 100} {
		_, err := proxy.ListContacts(context.Background(), ListParams{Limit: limit})
		assert.NoError(t, err, "limit %d", limit)
	}
}

// TestListEmpty expects an empty page without cursor when HubSpot has no contacts.
func TestListEmpty(t *testing.T) {
	proxy, _ := createProxy(t)

	data, err := proxy.ListContacts(context.Background(), ListParams{Limit: DefaultLimit})
	require.NoError(t, err)
	var page model.Page
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Empty(t, page.Results)
	assert.Nil(t, page.Paging)
}

// TestListPaging follows the cursor from one page to the next.
func TestListPaging(t *testing.T) {
	proxy, fake := createProxy(t)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		fake.Seed(map[string]string{"email": email})
	}
	ctx := context.Background()

	data, err := proxy.ListContacts(ctx, ListParams{Limit: 2})
	require.NoError(t, err)
	var first model.Page
	require.NoError(t, json.Unmarshal(data, &first))
	require.Len(t, first.Results, 2)
	require.NotNil(t, first.Paging)

	data, err = proxy.ListContacts(ctx, ListParams{Limit: 2, After: first.Paging.Next.After})
	require.NoError(t, err)
	var second model.Page
	require.NoError(t, json.Unmarshal(data, &second))
	require.Len(t, second.Results, 1)
	assert.Equal(t, "c@example.com", second.Results[0].Properties["email"])
	assert.Nil(t, second.Paging)
}

// TestListUpstreamError expects a rejected cursor to be reported as upstream error.
func TestListUpstreamError(t *testing.T) {
	proxy, _ := createProxy(t)
	_, err := proxy.ListContacts(context.Background(), ListParams{Limit: 10, After: "garbage"})
	assert.ErrorIs(t, err, ErrUpstream)
}

// TestGetContact expects the record to be returned with the requested properties.
func TestGetContact(t *testing.T) {
	proxy, fake := createProxy(t)
	id := fake.Seed(map[string]string{"email": "ana@example.com", "firstname": "Ana", "phone": "+34 600"})

	data, err := proxy.GetContact(context.Background(), id, "")
	require.NoError(t, err)
	var contact model.Contact
	require.NoError(t, json.Unmarshal(data, &contact))
	assert.Equal(t, id, contact.Id)
	assert.Equal(t, "Ana", contact.Properties["firstname"])
	_, hasPhone := contact.Properties["phone"]
	assert.False(t, hasPhone)

	data, err = proxy.GetContact(context.Background(), id, "phone")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &contact))
	assert.Equal(t, "+34 600", contact.Properties["phone"])
}

// TestGetNonexistentContact expects a not found error for an unknown id.
func TestGetNonexistentContact(t *testing.T) {
	proxy, _ := createProxy(t)
	_, err := proxy.GetContact(context.Background(), "9999", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestSearchWithoutMatches expects an empty search result to be a success.
func TestSearchWithoutMatches(t *testing.T) {
	proxy, _ := createProxy(t)

	data, err := proxy.SearchContactsByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	var result model.SearchResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.Results)
}

// TestSearchUpstreamError expects a failing search to be reported as upstream error, even a 404.
func TestSearchUpstreamError(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.SetFault(hubspottest.OpSearch, http.StatusNotFound)

	_, err := proxy.SearchContactsByEmail(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, ErrUpstream)
}

// TestDeleteByIDTwice expects the first deletion to succeed and the second to find nothing.
func TestDeleteByIDTwice(t *testing.T) {
	proxy, fake := createProxy(t)
	id := fake.Seed(map[string]string{"email": "ana@example.com"})

	result, err := proxy.DeleteContactByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.DeleteResult{Status: model.StatusDeleted, Id: id}, *result)

	_, err = proxy.DeleteContactByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestDeleteByIDUpstreamError expects other failures to be reported as upstream errors.
func TestDeleteByIDUpstreamError(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.SetFault(hubspottest.OpDelete, http.StatusForbidden)

	_, err := proxy.DeleteContactByID(context.Background(), "1001")
	assert.ErrorIs(t, err, ErrUpstream)
}

// TestDeleteByEmail expects the matching contact to be deleted and reported with the email.
func TestDeleteByEmail(t *testing.T) {
	proxy, fake := createProxy(t)
	id := fake.Seed(map[string]string{"email": "ana@example.com"})
	otherID := fake.Seed(map[string]string{"email": "max@example.com"})

	result, err := proxy.DeleteContactByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.DeleteResult{Status: model.StatusDeleted, Id: id, Email: "ana@example.com"}, *result)

	_, found := fake.Properties(id)
	assert.False(t, found)
	_, found = fake.Properties(otherID)
	assert.True(t, found)
}

// TestDeleteByEmailWithoutMatch expects a not found error and no delete call.
func TestDeleteByEmailWithoutMatch(t *testing.T) {
	proxy, fake := createProxy(t)

	_, err := proxy.DeleteContactByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, fake.Calls(hubspottest.OpDelete))
}

// TestDeleteByEmailFailures covers failures of the search and the delete step.
func TestDeleteByEmailFailures(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.Seed(map[string]string{"email": "ana@example.com"})

	fake.SetFault(hubspottest.OpSearch, http.StatusBadGateway)
	_, err := proxy.DeleteContactByEmail(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, ErrUpstream)

	fake.SetFault(hubspottest.OpSearch, 0)
	fake.SetFault(hubspottest.OpDelete, http.StatusInternalServerError)
	_, err = proxy.DeleteContactByEmail(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, ErrUpstream)
}

// TestDeleteByEmailDeleteNotFound expects a 404 of the delete step to be an upstream error, since
// the search has just found the contact.
func TestDeleteByEmailDeleteNotFound(t *testing.T) {
	proxy, fake := createProxy(t)
	fake.Seed(map[string]string{"email": "ana@example.com"})
	fake.SetFault(hubspottest.OpDelete, http.StatusNotFound)

	_, err := proxy.DeleteContactByEmail(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrNotFound)
	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, http.StatusNotFound, proxyErr.Status)
	assert.Equal(t, "HubSpot API error: 404", proxyErr.Message)
}

// TestDeleteByEmailConnectionLost expects a connectivity error when HubSpot goes away between the
// search and the delete.
func TestDeleteByEmailConnectionLost(t *testing.T) {
	proxy, fake := createProxy(t)
	id := fake.Seed(map[string]string{"email": "ana@example.com"})
	fake.DropConnection(hubspottest.OpDelete, true)

	_, err := proxy.DeleteContactByEmail(context.Background(), "ana@example.com")
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Equal(t, 1, fake.Calls(hubspottest.OpSearch))
	_, found := fake.Properties(id)
	assert.True(t, found)
}

// TestCreateConflictConnectionLost expects a connectivity error when HubSpot goes away between the
// search and the update of an existing contact.
func TestCreateConflictConnectionLost(t *testing.T) {
	proxy, fake := createProxy(t)
	id := fake.Seed(map[string]string{"email": "ana@example.com", "firstname": "Anna"})
	fake.DropConnection(hubspottest.OpUpdate, true)

	_, err := proxy.CreateContact(context.Background(), ana)
	assert.ErrorIs(t, err, ErrConnectivity)
	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, "Failed to update existing contact", proxyErr.Message)
	props, _ := fake.Properties(id)
	assert.Equal(t, "Anna", props["firstname"])
}

// TestMissingQueryValues expects empty ids and emails to be rejected before HubSpot is called.
func TestMissingQueryValues(t *testing.T) {
	proxy, fake := createProxy(t)
	ctx := context.Background()

	_, err := proxy.SearchContactsByEmail(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = proxy.DeleteContactByEmail(ctx, " ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = proxy.GetContact(ctx, "", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = proxy.DeleteContactByID(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, fake.TotalCalls())
}
