package notify

import (
	"context"

	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"go.uber.org/zap"
)

// LogNotifier implements coins.Notifier by writing structured log lines. It
// stands in for the platform notification sender, which lives in another
// service; delivery here means the notice was handed off to the log pipeline.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a notifier. A nil logger discards notices.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send records the notice. The context is honored so a cancelled sweep does
// not report deliveries it never made.
func (notifier *LogNotifier) Send(ctx context.Context, recipient coins.UserID, template string, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("recipient", recipient.String()),
		zap.String("template", template),
	}
	for key, value := range data {
		fields = append(fields, zap.String("data_"+key, value))
	}
	notifier.logger.Info("notice sent", fields...)
	return nil
}
