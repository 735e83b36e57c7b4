package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"go.uber.org/zap"
)

func TestRecorderCountsOperations(test *testing.T) {
	test.Parallel()
	registry := prometheus.NewRegistry()
	recorder := NewOperationRecorder(zap.NewNop(), registry)

	userID, err := coins.NewUserID("user-1")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}

	recorder.LogOperation(context.Background(), coins.OperationLog{
		Operation: "credit",
		UserID:    userID,
		Source:    coins.SourceRentPayment,
		Amount:    coins.Amount(50),
		Status:    "ok",
	})
	recorder.LogOperation(context.Background(), coins.OperationLog{
		Operation: "debit",
		UserID:    userID,
		Source:    coins.SourceRedemption,
		Amount:    coins.Amount(10),
		Status:    "error",
		Error:     errors.New("insufficient balance"),
	})

	okCount := testutil.ToFloat64(recorder.operations.WithLabelValues("credit", "rent_payment", "ok"))
	if okCount != 1 {
		test.Fatalf("expected one ok credit, got %f", okCount)
	}
	errorCount := testutil.ToFloat64(recorder.operations.WithLabelValues("debit", "redemption", "error"))
	if errorCount != 1 {
		test.Fatalf("expected one failed debit, got %f", errorCount)
	}
	moved := testutil.ToFloat64(recorder.coinsMoved.WithLabelValues("credit", "rent_payment"))
	if moved != 50 {
		test.Fatalf("expected 50 coins moved, got %f", moved)
	}
	// Failed operations never count as moved coins.
	failedMoved := testutil.ToFloat64(recorder.coinsMoved.WithLabelValues("debit", "redemption"))
	if failedMoved != 0 {
		test.Fatalf("expected 0 coins moved on failure, got %f", failedMoved)
	}
}

func TestRecorderDefaultsDependencies(test *testing.T) {
	test.Parallel()
	recorder := NewOperationRecorder(nil, prometheus.NewRegistry())
	userID, err := coins.NewUserID("user-2")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	recorder.LogOperation(context.Background(), coins.OperationLog{
		Operation: "credit",
		UserID:    userID,
		Source:    coins.SourceReview,
		Amount:    coins.Amount(5),
		Status:    "ok",
	})
}
