package hasocket

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Error types shared by clients and nodes.
const (
	ErrorTypeException                 = "Exception"
	ErrorTypeNoDatabaseReply           = "NoDatabaseReply"
	ErrorTypeMessageToJSONFailure      = "MessageToJsonFailure"
	ErrorTypeUnknownService            = "UnknownService"
	ErrorTypeServiceHasNoMethods       = "ServiceHasNoMethods"
	ErrorTypeUnknownServiceMethod      = "UnknownServiceMethod"
	ErrorTypeMethodExecutionFailed     = "MethodExecutionFailed"
	ErrorTypeNotFound                  = "NotFound"
	ErrorTypeUniqueConstraintViolation = "UniqueConstraintViolation"
)

// Request is the data channel request envelope.
type Request struct {
	Service    string      `json:"s"`
	Method     string      `json:"m"`
	Language   string      `json:"l,omitempty"`
	Parameters interface{} `json:"p,omitempty"`
}

// Error is a single error reported inside a Result.
type Error struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// NewError returns an Error without details.
func NewError(typ, message string) Error {
	return Error{Type: typ, Message: message}
}

func (e Error) Error() string {
	if e.Details == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Details)
}

// Result is the data channel response envelope.
type Result struct {
	Ok     bool          `json:"Ok"`
	Errors []Error       `json:"Errors,omitempty"`
	Data   []interface{} `json:"Data"`
}

// NewResult returns a successful Result holding data.
func NewResult(data ...interface{}) *Result {
	if data == nil {
		data = []interface{}{}
	}
	return &Result{
		Ok:   true,
		Data: data,
	}
}

// NewErrorResult returns a failed Result holding errs.
func NewErrorResult(errs ...Error) *Result {
	return &Result{
		Errors: errs,
		Data:   []interface{}{},
	}
}

// Add appends data to the Result.
func (r *Result) Add(data ...interface{}) {
	r.Data = append(r.Data, data...)
}

// AddError appends an error to the Result and marks it as failed.
func (r *Result) AddError(err Error) {
	r.Errors = append(r.Errors, err)
	r.Ok = false
}

// Finish prepares the Result for sending: Ok reflects the absence of errors, and a failed Result
// carries no data.
func (r *Result) Finish() *Result {
	r.Ok = len(r.Errors) == 0
	if !r.Ok || r.Data == nil {
		r.Data = []interface{}{}
	}
	return r
}

// SingleData returns the first data element, or nil if there is none.
func (r *Result) SingleData() interface{} {
	if len(r.Data) == 0 {
		return nil
	}
	return r.Data[0]
}

// Err returns the errors of a failed Result as a single error, or nil.
func (r *Result) Err() error {
	if r.Ok && len(r.Errors) == 0 {
		return nil
	}
	if len(r.Errors) == 0 {
		return errors.New("request failed without errors")
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return multierr.Combine(errs...)
}
