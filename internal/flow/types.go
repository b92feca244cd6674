package flow

import (
	"net/http"
	"time"
)

// Response is one HTTP exchange made during an iteration.
type Response struct {
	// Tag names the request (ValidRegister, ValidLogin, InvalidLogin)
	Tag string

	// StatusCode is zero when no response was received
	StatusCode int

	Header http.Header
	Body   []byte

	// Duration covers sending the request and reading the full body
	Duration time.Duration

	// Err is set when the transport failed or the body could not be read
	Err error
}

// Received reports whether the server answered at all.
func (r *Response) Received() bool {
	return r != nil && r.StatusCode != 0
}

// Failed reports whether the exchange ended with a transport error.
func (r *Response) Failed() bool {
	return r == nil || r.Err != nil
}

// Result is the set of responses obtained during one iteration.
type Result struct {
	// Register is nil when the iteration did not register
	Register *Response

	// Login is nil when the iteration ended before logging in
	Login *Response

	// Interrupted is set when the run was cancelled during think time
	Interrupted bool
}

// Responses returns the non-nil responses in request order.
func (r *Result) Responses() []*Response {
	out := make([]*Response, 0, 2)
	if r.Register != nil {
		out = append(out, r.Register)
	}
	if r.Login != nil {
		out = append(out, r.Login)
	}
	return out
}

// RequestSample is the per-request record handed to the reporting sink.
type RequestSample struct {
	Tag            string
	Duration       time.Duration
	StatusCode     int
	ExpectedStatus int
	Bytes          int64
	Err            error
}

// Failed reports whether the request failed at the transport level or was
// answered with a status other than the one the contract expects.
func (s RequestSample) Failed() bool {
	return s.Err != nil || s.StatusCode != s.ExpectedStatus
}

// Recorder receives one sample per request.
type Recorder interface {
	RecordRequest(RequestSample)
}

type registerPayload struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
