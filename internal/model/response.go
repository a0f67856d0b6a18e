package model

// ResponseData carries the result of a query. Counters are -1 until the
// corresponding value is known.
type ResponseData struct {
	Query               any     `json:"query"`
	TotalEvents         int64   `json:"totalEvents"`
	TotalMatchingEvents int64   `json:"totalMatchingEvents"`
	TotalPages          int64   `json:"totalPages"`
	TotalInPage         int     `json:"totalInPage"`
	Page                int     `json:"page"`
	Events              []Event `json:"events"`
}

// Response is the envelope returned by every query, successful or not.
type Response struct {
	Success bool         `json:"success"`
	Errors  []string     `json:"errors"`
	Data    ResponseData `json:"data"`
}

// NewResponse returns an unsuccessful response with every counter unset.
// Slices are non-nil so they encode as [] rather than null.
func NewResponse() Response {
	return Response{
		Errors: []string{},
		Data: ResponseData{
			TotalEvents:         -1,
			TotalMatchingEvents: -1,
			TotalPages:          -1,
			TotalInPage:         -1,
			Page:                -1,
			Events:              []Event{},
		},
	}
}

// Fail appends messages to the error list and marks the response unsuccessful.
func (r *Response) Fail(messages ...string) {
	r.Success = false
	r.Errors = append(r.Errors, messages...)
}
