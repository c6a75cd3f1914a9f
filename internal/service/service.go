package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/config"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

// handlers binds the REST endpoints to a ContactProxy.
type handlers struct {
	proxy      *ContactProxy
	configured bool
}

// SetupHttpRouter initializes the REST API router and registers all endpoints. Metrics are served
// from the given gatherer; pass nil to serve the default registry.
func SetupHttpRouter(cfg config.Config, proxy *ContactProxy, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinLogging {
		router.Use(requestLogger())
	} else {
		log.Info().Msg("Turning off HTTP request logging.")
	}
	if cors := corsMiddleware(cfg.AllowedOrigins); cors != nil {
		router.Use(cors)
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{proxy: proxy, configured: cfg.Configured()}

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	contacts := router.Group("/api/contacts")
	contacts.POST("", h.createContact)
	contacts.GET("", h.listContacts)
	contacts.GET("/search", h.searchContacts)
	contacts.GET("/:id", h.getContact)
	contacts.DELETE("/by-email", h.deleteContactByEmail)
	contacts.DELETE("/:id", h.deleteContactByID)
	return router
}

// health reports that the service is up and whether it has a HubSpot token.
//
// Example REST API call:
//
//	> curl http://localhost:8080/healthz
func (h *handlers) health(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"status": "ok", "configured": h.configured})
}

// createContact creates the contact specified in the request's JSON in HubSpot. If a contact with
// the same email already exists, its first and last name are updated instead. It responds with
// 201 and status 'created', or with 200 and status 'updated'. A body that is not JSON is a bad
// request, while JSON with fields of the wrong type is rejected like any other invalid contact.
//
// Example REST API call:
//
//	> curl http://localhost:8080/api/contacts --request "POST" --include --header "Content-Type: application/json" --data '{"firstname": "Ana", "lastname": "Lopez", "email": "ana@example.com"}'
func (h *handlers) createContact(c *gin.Context) {
	var input model.ContactInput
	if err := c.ShouldBindJSON(&input); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			message := "contact must be a JSON object"
			if typeErr.Field != "" {
				message = fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type)
			}
			respondError(c, &Error{Kind: ErrValidation, Op: "create", Message: message, Err: err})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	result, err := h.proxy.CreateContact(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Status == model.StatusCreated {
		status = http.StatusCreated
	}
	c.IndentedJSON(status, result)
}

// listContacts responds with one page of contacts, passing HubSpot's JSON through unchanged.
//
// The URL parameter 'limit' is the page size between 1 and 100, 20 if omitted. The URL parameter
// 'after' is the cursor found in 'paging.next.after' of the previous page. The URL parameter
// 'properties' is a comma separated list of the contact properties to return.
//
// REST API calls:
//
//	> curl "http://localhost:8080/api/contacts"
//	> curl "http://localhost:8080/api/contacts?limit=50&after=12345"
//	> curl "http://localhost:8080/api/contacts?properties=email,phone"
func (h *handlers) listContacts(c *gin.Context) {
	limit := DefaultLimit
	if raw, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, &Error{Kind: ErrValidation, Op: "list", Message: "limit must be an integer"})
			return
		}
		limit = parsed
	}
	page, err := h.proxy.ListContacts(c.Request.Context(), ListParams{
		Limit:      limit,
		After:      c.Query("after"),
		Properties: c.DefaultQuery("properties", DefaultProperties),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, page)
}

// getContact responds with the contact whose HubSpot id matches the id parameter of the request
// URL. The URL parameter 'properties' works as for listContacts.
//
// Example REST API call:
//
//	> curl http://localhost:8080/api/contacts/12345
func (h *handlers) getContact(c *gin.Context) {
	contact, err := h.proxy.GetContact(c.Request.Context(), c.Param("id"),
		c.DefaultQuery("properties", DefaultProperties))
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contact)
}

// searchContacts responds with HubSpot's search result for contacts whose email is exactly the
// 'email' URL parameter. No match is not an error; the result list is empty then.
//
// Example REST API call:
//
//	> curl "http://localhost:8080/api/contacts/search?email=ana@example.com"
func (h *handlers) searchContacts(c *gin.Context) {
	result, err := h.proxy.SearchContactsByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// deleteContactByID deletes the contact whose HubSpot id matches the id parameter of the request
// URL.
//
// Example REST API call:
//
//	> curl http://localhost:8080/api/contacts/12345 --request "DELETE"
func (h *handlers) deleteContactByID(c *gin.Context) {
	result, err := h.proxy.DeleteContactByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// deleteContactByEmail deletes the first contact whose email is exactly the 'email' URL
// parameter.
//
// Example REST API call:
//
//	> curl "http://localhost:8080/api/contacts/by-email?email=ana@example.com" --request "DELETE"
func (h *handlers) deleteContactByEmail(c *gin.Context) {
	result, err := h.proxy.DeleteContactByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// respondError aborts the request with the status and message belonging to err.
func respondError(c *gin.Context, err error) {
	status := httpStatus(err)
	body := model.ErrorResponse{Message: http.StatusText(status)}
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		body.Message = proxyErr.Message
		if errors.Is(err, ErrUpstream) {
			body.UpstreamStatus = proxyErr.Status
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(requestIDKey)).
			Int("status", status).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
