package dispatch

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

// TimeLayout is the minute-precision layout used by clinic clients.
const TimeLayout = "2006-01-02T15:04"

// Request is one decoded request line. Action-specific fields are decoded
// on demand with Bind.
type Request struct {
	Action string `json:"action"`

	body []byte
}

// DecodeRequest parses a request line.
func DecodeRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, Validation("malformed request: %v", err)
	}
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		return nil, Validation("action is required")
	}
	req.body = line
	return &req, nil
}

// NewRequest builds a request for action with fields marshalled from v. It
// is used by tests and by in-process callers.
func NewRequest(action string, v interface{}) (*Request, error) {
	body := []byte("{}")
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		body = b
	}
	return &Request{Action: action, body: body}, nil
}

// Bind decodes the request's fields into v.
func (r *Request) Bind(v interface{}) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return Validation("invalid fields for %s: %v", r.Action, err)
	}
	return nil
}

// Response is the envelope written back for every request.
type Response struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Code    Code        `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data interface{}) Response {
	return Response{Status: StatusOK, Data: data}
}

// Fail builds an error envelope.
func Fail(code Code, message string) Response {
	return Response{Status: StatusErr, Code: code, Message: message}
}

// Encode marshals resp. The result never contains a newline.
func Encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(Fail(CodeInternal, "failed to encode response"))
	}
	return b
}

// ParseTime accepts TimeLayout in loc or an RFC 3339 timestamp.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, Validation("time is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(TimeLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, Validation("invalid time %q: expected %s or RFC 3339", s, TimeLayout)
}

// FormatTime renders t in loc using TimeLayout.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimeLayout)
}
