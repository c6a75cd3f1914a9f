package model

// PropertiesInput is the request body of the CRM create and update calls.
type PropertiesInput struct {
	Properties map[string]string `json:"properties"`
}

// SearchRequest is the request body of the CRM search call.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	After        string        `json:"after,omitempty"`
}

// FilterGroup is a group of filters combined with AND. Groups are combined with OR.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Filter is a condition on a single contact property.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
}

// OperatorEQ matches property values exactly.
const OperatorEQ = "EQ"

// DefaultProperties are the contact properties requested when the client does not ask for others.
var DefaultProperties = []string{"email", "firstname", "lastname"}

// EmailEquals builds a search request for contacts whose email is exactly the given one.
func EmailEquals(email string) SearchRequest {
	return SearchRequest{
		FilterGroups: []FilterGroup{
			{Filters: []Filter{{PropertyName: "email", Operator: OperatorEQ, Value: email}}},
		},
		Properties: DefaultProperties,
	}
}
