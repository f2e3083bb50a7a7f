package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired      = sterrors.New("cidflow: service is required")
	ErrHandlerRequired      = sterrors.New("cidflow: handler function is required")
	ErrHandlerNameRequired  = sterrors.New("cidflow: handler name is required")
	ErrServiceNameRequired  = sterrors.New("cidflow: rpc service name is required")
	ErrMethodNameRequired   = sterrors.New("cidflow: rpc method name is required")
	ErrEventNameRequired    = sterrors.New("cidflow: event name is required")
	ErrPublisherRequired    = sterrors.New("cidflow: publisher is required")
	ErrSubscriberRequired   = sterrors.New("cidflow: subscriber is required")
	ErrTopicRequired        = sterrors.New("cidflow: topic is required")
	ErrConfigRequired       = sterrors.New("cidflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("cidflow: logger is required")
	ErrCollectionRequired   = sterrors.New("cidflow: data collection is required")
	ErrSerializerRequired   = sterrors.New("cidflow: serializer is required")
	ErrClientRequired       = sterrors.New("cidflow: rpc client is required")
	ErrEventPayloadRequired = sterrors.New("cidflow: event payload is required")
	ErrAuthorizerRequired   = sterrors.New("cidflow: authorization gate is required")
	ErrValidatorRequired    = sterrors.New("cidflow: token validator is required")
)

// ConfigValidationError marks errors produced while validating configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("cidflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
