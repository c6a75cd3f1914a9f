// Package hubspottest provides an in-memory imitation of the HubSpot contacts API for tests.
//
// The server understands the same six endpoints the hubspot client uses, checks the bearer token,
// enforces unique emails on create and keeps contacts in creation order, which is also the order
// in which list and search return them.
package hubspottest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/model"
	pub "gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

// Operation names, matching the ones of the hubspot package.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpGet    = "get"
	OpList   = "list"
	OpSearch = "search"
	OpDelete = "delete"
)

type record struct {
	id         string
	properties map[string]string
	createdAt  time.Time
	updatedAt  time.Time
}

// Server is a fake HubSpot API listening on a local port.
type Server struct {
	*httptest.Server
	token string

	mu             sync.Mutex
	records        []*record
	nextID         int
	faults         map[string]int
	drops          map[string]bool
	calls          map[string]int
	hideFromSearch bool
}

// NewServer starts a fake that accepts the given bearer token. Call Close when done.
func NewServer(token string) *Server {
	s := &Server{
		token:  token,
		nextID: 1001,
		faults: map[string]int{},
		drops:  map[string]bool{},
		calls:  map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /crm/v3/objects/contacts", s.guard(OpCreate, s.create))
	mux.HandleFunc("GET /crm/v3/objects/contacts", s.guard(OpList, s.list))
	mux.HandleFunc("POST /crm/v3/objects/contacts/search", s.guard(OpSearch, s.search))
	mux.HandleFunc("GET /crm/v3/objects/contacts/{id}", s.guard(OpGet, s.get))
	mux.HandleFunc("PATCH /crm/v3/objects/contacts/{id}", s.guard(OpUpdate, s.update))
	mux.HandleFunc("DELETE /crm/v3/objects/contacts/{id}", s.guard(OpDelete, s.delete))
	s.Server = httptest.NewServer(mux)
	return s
}

// SetFault makes every following call of the operation fail with the given status. A status of
// 0 removes the fault.
func (s *Server) SetFault(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.faults, op)
		return
	}
	s.faults[op] = status
}

// DropConnection makes every following call of the operation end with a closed connection and no
// response, as if HubSpot went away in the middle of a request.
func (s *Server) DropConnection(op string, drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[op] = drop
}

// HideFromSearch makes searches return no results, which simulates a search index lagging behind
// the contact store.
func (s *Server) HideFromSearch(hide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideFromSearch = hide
}

// Calls returns how often the operation has been called.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of calls of all operations together.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Seed stores a contact directly, bypassing the API and its uniqueness check, and returns its id.
func (s *Server) Seed(properties map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(properties).id
}

// Properties returns a copy of the properties of the contact with the given id.
func (s *Server) Properties(id string) (map[string]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, r := s.find(id)
	if r == nil {
		return nil, false
	}
	props := make(map[string]string, len(r.properties))
	for k, v := range r.properties {
		props[k] = v
	}
	return props, true
}

// Len returns the number of stored contacts.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Server) guard(op string, next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[op]++
		fault := s.faults[op]
		drop := s.drops[op]
		s.mu.Unlock()

		if drop {
			hijacker, ok := w.(http.Hijacker)
			if !ok {
				panic("hubspottest: response writer cannot drop the connection")
			}
			conn, _, err := hijacker.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "INVALID_AUTHENTICATION",
				"Authentication credentials not found.")
			return
		}
		if fault != 0 {
			writeError(w, fault, "INJECTED_FAULT", fmt.Sprintf("injected fault for %s", op))
			return
		}
		next(w, r)
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var input model.PropertiesInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(input.Properties["email"])
	for _, existing := range s.records {
		if email != "" && strings.ToLower(existing.properties["email"]) == email {
			writeError(w, http.StatusConflict, "CONFLICT",
				"Contact already exists. Existing ID: "+existing.id)
			return
		}
	}
	rec := s.insert(input.Properties)
	writeJSON(w, http.StatusCreated, rec.toContact(nil))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid limit")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid after cursor")
			return
		}
		offset = parsed
	}
	names := splitProperties(r.URL.Query().Get("properties"))

	s.mu.Lock()
	defer s.mu.Unlock()
	page := pub.Page{Results: []pub.Contact{}}
	for i := offset; i < len(s.records) && i < offset+limit; i++ {
		page.Results = append(page.Results, s.records[i].toContact(names))
	}
	if offset+limit < len(s.records) {
		next := strconv.Itoa(offset + limit)
		page.Paging = &pub.Paging{Next: &pub.PagingNext{
			After: next,
			Link:  s.URL + "/crm/v3/objects/contacts?after=" + next,
		}}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := pub.SearchResult{Results: []pub.Contact{}}
	if !s.hideFromSearch {
		for _, rec := range s.records {
			if rec.matches(req.FilterGroups) {
				result.Results = append(result.Results, rec.toContact(req.Properties))
			}
		}
	}
	result.Total = len(result.Results)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, rec := s.find(r.PathValue("id"))
	if rec == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, rec.toContact(splitProperties(r.URL.Query().Get("properties"))))
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var input model.PropertiesInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, rec := s.find(r.PathValue("id"))
	if rec == nil {
		writeNotFound(w)
		return
	}
	for k, v := range input.Properties {
		rec.properties[k] = v
	}
	rec.updatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, rec.toContact(nil))
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, rec := s.find(r.PathValue("id"))
	if rec == nil {
		writeNotFound(w)
		return
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

// insert must be called with s.mu held.
func (s *Server) insert(properties map[string]string) *record {
	now := time.Now().UTC()
	rec := &record{
		id:         strconv.Itoa(s.nextID),
		properties: map[string]string{},
		createdAt:  now,
		updatedAt:  now,
	}
	s.nextID++
	for k, v := range properties {
		rec.properties[k] = v
	}
	s.records = append(s.records, rec)
	return rec
}

// find must be called with s.mu held.
func (s *Server) find(id string) (int, *record) {
	for i, rec := range s.records {
		if rec.id == id {
			return i, rec
		}
	}
	return -1, nil
}

func (r *record) matches(groups []model.FilterGroup) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		ok := true
		for _, f := range group.Filters {
			if f.Operator != model.OperatorEQ || !strings.EqualFold(r.properties[f.PropertyName], f.Value) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (r *record) toContact(names []string) pub.Contact {
	props := map[string]string{"hs_object_id": r.id}
	if len(names) == 0 {
		for k, v := range r.properties {
			props[k] = v
		}
	} else {
		for _, name := range names {
			if v, ok := r.properties[name]; ok {
				props[name] = v
			}
		}
	}
	created, updated := r.createdAt, r.updatedAt
	return pub.Contact{Id: r.id, Properties: props, CreatedAt: &created, UpdatedAt: &updated}
}

func splitProperties(raw string) []string {
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "OBJECT_NOT_FOUND", "Object not found.")
}

func writeError(w http.ResponseWriter, status int, category, message string) {
	writeJSON(w, status, map[string]string{
		"status":   "error",
		"message":  message,
		"category": category,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
