package coins

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	Source    Source
	Amount    Amount
	Reference *Reference
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithExpiryHorizon overrides the default 365-day credit expiry horizon.
func WithExpiryHorizon(days int) ServiceOption {
	return func(service *Service) {
		if days > 0 {
			service.expiryHorizonSeconds = int64(days) * secondsPerDay
		}
	}
}
