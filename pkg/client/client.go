// Package client is the application facing side of a cluster: it builds request envelopes, routes
// them through a cluster manager and decodes the results.
package client

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/codec"
)

// Router sends encoded requests to the cluster.  It is implemented by *cluster.Manager.
type Router interface {
	SendWrite(ctx context.Context, payload []byte) ([]byte, error)
	SendRead(ctx context.Context, payload []byte) ([]byte, error)
	SendWriteNoReply(ctx context.Context, payload []byte) error
}

// Option modifies a request before it is sent.
type Option func(*hasocket.Request)

// WithLanguage sets the language tag of a request.
func WithLanguage(tag string) Option {
	return func(r *hasocket.Request) {
		r.Language = tag
	}
}

// Client issues service method calls against a cluster.
type Client struct {
	logger   logrus.FieldLogger
	router   Router
	codec    codec.Codec
	language string
}

// New creates a Client.  Requests are encoded with c and carry language unless overridden.
func New(logger logrus.FieldLogger, router Router, c codec.Codec, language string) *Client {
	return &Client{
		logger:   logger,
		router:   router,
		codec:    c,
		language: language,
	}
}

// Read calls method of service on a read node.
func (c *Client) Read(ctx context.Context, service, method string, params interface{}, opts ...Option) (*hasocket.Result, error) {
	return c.call(ctx, c.router.SendRead, service, method, params, opts)
}

// Write calls method of service on the write node.
func (c *Client) Write(ctx context.Context, service, method string, params interface{}, opts ...Option) (*hasocket.Result, error) {
	return c.call(ctx, c.router.SendWrite, service, method, params, opts)
}

// Notify calls method of service on the write node without waiting for the result.
func (c *Client) Notify(ctx context.Context, service, method string, params interface{}, opts ...Option) error {
	payload, err := c.encode(service, method, params, opts)
	if err != nil {
		return err
	}
	return c.router.SendWriteNoReply(ctx, payload)
}

func (c *Client) call(ctx context.Context, send func(context.Context, []byte) ([]byte, error), service, method string, params interface{}, opts []Option) (*hasocket.Result, error) {
	payload, err := c.encode(service, method, params, opts)
	if err != nil {
		return nil, err
	}
	reply, err := send(ctx, payload)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"service": service,
			"method":  method,
		}).Debug("request failed")
		return nil, err
	}
	var result hasocket.Result
	if err := c.codec.Unmarshal(reply, &result); err != nil {
		return nil, fmt.Errorf("%s: %s.%s: %w", hasocket.ErrorTypeMessageToJSONFailure, service, method, err)
	}
	return &result, nil
}

func (c *Client) encode(service, method string, params interface{}, opts []Option) ([]byte, error) {
	req := hasocket.Request{
		Service:    service,
		Method:     method,
		Language:   c.language,
		Parameters: params,
	}
	for _, opt := range opts {
		opt(&req)
	}
	payload, err := c.codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s.%s: %w", service, method, err)
	}
	return payload, nil
}
