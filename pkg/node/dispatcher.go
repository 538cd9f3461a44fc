package node

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/hasocket"
)

// Call is a decoded request, as seen by a Handler.
type Call struct {
	Service    string
	Method     string
	Language   string
	Parameters interface{}
}

// Param returns the named parameter when the parameters are an object.
func (c *Call) Param(name string) (interface{}, bool) {
	params, ok := c.Parameters.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := params[name]
	return v, ok
}

// StringParam returns the named parameter if it is a non-empty string.
func (c *Call) StringParam(name string) (string, error) {
	v, _ := c.Param(name)
	s, ok := v.(string)
	if !ok || s == "" {
		return "", hasocket.Error{
			Type:    hasocket.ErrorTypeException,
			Message: "missing string parameter",
			Details: map[string]interface{}{"parameter": name},
		}
	}
	return s, nil
}

// Handler executes one method.  A returned hasocket.Error is passed to the caller as is, any other
// error is reported as a failed method execution.
type Handler func(ctx context.Context, call *Call) (*hasocket.Result, error)

// Service maps method names to handlers.
type Service map[string]Handler

// Dispatcher routes calls to the handlers of registered services.
type Dispatcher struct {
	logger          logrus.FieldLogger
	defaultLanguage string

	mu       sync.RWMutex
	services map[string]Service
}

func NewDispatcher(logger logrus.FieldLogger, defaultLanguage string) *Dispatcher {
	return &Dispatcher{
		logger:          logger,
		defaultLanguage: defaultLanguage,
		services:        map[string]Service{},
	}
}

// Register adds or replaces the service called name.
func (d *Dispatcher) Register(name string, s Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[name] = s
}

// Services returns the names of the registered services, sorted.
func (d *Dispatcher) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes req and returns its finished result.  It never fails: problems are reported
// inside the result.
func (d *Dispatcher) Dispatch(ctx context.Context, req hasocket.Request) *hasocket.Result {
	call := &Call{
		Service:    req.Service,
		Method:     req.Method,
		Language:   req.Language,
		Parameters: req.Parameters,
	}
	if call.Language == "" {
		call.Language = d.defaultLanguage
	}
	logger := d.logger.WithFields(logrus.Fields{
		"service": call.Service,
		"method":  call.Method,
	})
	details := map[string]interface{}{
		"Service": call.Service,
		"Command": call.Method,
	}

	d.mu.RLock()
	service, ok := d.services[call.Service]
	d.mu.RUnlock()
	if !ok {
		return hasocket.NewErrorResult(hasocket.NewError(hasocket.ErrorTypeUnknownService, call.Service))
	}
	if len(service) == 0 {
		return hasocket.NewErrorResult(hasocket.NewError(hasocket.ErrorTypeServiceHasNoMethods, call.Service))
	}
	handler, ok := service[call.Method]
	if !ok {
		return hasocket.NewErrorResult(hasocket.Error{
			Type:    hasocket.ErrorTypeUnknownServiceMethod,
			Message: "unknown command '" + call.Method + "' for service '" + call.Service + "'",
			Details: details,
		})
	}

	result, err := handler(ctx, call)
	if err != nil {
		var herr hasocket.Error
		if errors.As(err, &herr) {
			return hasocket.NewErrorResult(herr)
		}
		logger.WithError(err).Warn("method failed")
		return hasocket.NewErrorResult(hasocket.Error{
			Type:    hasocket.ErrorTypeMethodExecutionFailed,
			Message: "command '" + call.Method + "' for service '" + call.Service + "' could not be executed",
			Details: details,
		})
	}
	if result == nil {
		result = hasocket.NewResult()
	}
	return result.Finish()
}
