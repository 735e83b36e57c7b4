package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"go.uber.org/zap"
)

// OperationRecorder implements coins.OperationLogger. Every state-changing
// ledger operation is written as a structured log line and counted in
// Prometheus, labeled by operation, source and outcome.
type OperationRecorder struct {
	logger     *zap.Logger
	operations *prometheus.CounterVec
	coinsMoved *prometheus.CounterVec
}

// NewOperationRecorder wires a recorder. A nil logger logs nowhere; a nil
// registerer falls back to the process-wide default registry.
func NewOperationRecorder(logger *zap.Logger, registerer prometheus.Registerer) *OperationRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &OperationRecorder{
		logger: logger,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coins_ledger_operations_total",
			Help: "Ledger operations by operation, source and status.",
		}, []string{"operation", "source", "status"}),
		coinsMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coins_ledger_coins_moved_total",
			Help: "Coins moved by committed ledger operations.",
		}, []string{"operation", "source"}),
	}
}

// LogOperation records a single operation outcome.
func (recorder *OperationRecorder) LogOperation(_ context.Context, entry coins.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Source.String(), entry.Status).Inc()
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("source", entry.Source.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Reference != nil {
		fields = append(fields,
			zap.String("reference_kind", entry.Reference.Kind()),
			zap.String("reference_id", entry.Reference.ID()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		recorder.logger.Warn("ledger operation failed", fields...)
		return
	}
	recorder.coinsMoved.WithLabelValues(entry.Operation, entry.Source.String()).Add(float64(entry.Amount.Int64()))
	recorder.logger.Info("ledger operation committed", fields...)
}
