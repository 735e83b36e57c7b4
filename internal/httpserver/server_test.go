package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/internal/store/gormstore"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type manualClock struct {
	now int64
}

func (clock *manualClock) Next() int64 {
	clock.now += 60
	return clock.now
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, coins.UserID, string, map[string]string) error {
	return nil
}

func newTestRouter(test *testing.T) (*gin.Engine, *manualClock) {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("raw database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	store := gormstore.New(db)

	clock := &manualClock{now: 1_700_000_000}
	service, err := coins.NewService(store, clock.Next)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	aggregator, err := coins.NewAggregator(store)
	if err != nil {
		test.Fatalf("new aggregator: %v", err)
	}
	sweeper, err := coins.NewSweeper(store, nopNotifier{}, clock.Next, nil)
	if err != nil {
		test.Fatalf("new sweeper: %v", err)
	}

	router := NewRouter(Config{}, Dependencies{
		Service:    service,
		Aggregator: aggregator,
		Sweeper:    sweeper,
	})
	return router, clock
}

func perform(test *testing.T, router *gin.Engine, method string, path string, body any) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func errorCode(test *testing.T, recorder *httptest.ResponseRecorder) string {
	test.Helper()
	payload := decodeBody(test, recorder)
	errorPayload, ok := payload["error"].(map[string]any)
	if !ok {
		test.Fatalf("expected error payload, got %q", recorder.Body.String())
	}
	code, _ := errorPayload["code"].(string)
	return code
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)
	recorder := perform(test, router, http.MethodGet, "/healthz", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestCreditDebitAndBalanceEndpoints(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)

	recorder := perform(test, router, http.MethodPost, "/api/users/user-1/credit", map[string]any{
		"amount": 100,
		"source": "signup_bonus",
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("credit failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if balance := decodeBody(test, recorder)["balance"].(float64); balance != 100 {
		test.Fatalf("expected balance 100, got %f", balance)
	}

	recorder = perform(test, router, http.MethodPost, "/api/users/user-1/debit", map[string]any{
		"amount": 30,
		"source": "redemption",
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("debit failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = perform(test, router, http.MethodGet, "/api/users/user-1/balance", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("balance failed: %d", recorder.Code)
	}
	payload := decodeBody(test, recorder)
	if payload["balance"].(float64) != 70 || payload["total_earned"].(float64) != 100 {
		test.Fatalf("unexpected balance payload: %v", payload)
	}

	recorder = perform(test, router, http.MethodGet, "/api/users/user-1/transactions?limit=10", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("transactions failed: %d", recorder.Code)
	}
	transactions := decodeBody(test, recorder)["transactions"].([]any)
	if len(transactions) != 2 {
		test.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
	newest := transactions[0].(map[string]any)
	if newest["direction"].(string) != "debit" || newest["balance_after"].(float64) != 70 {
		test.Fatalf("unexpected newest entry: %v", newest)
	}
}

func TestDebitWithoutFundsReturnsConflict(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)
	recorder := perform(test, router, http.MethodPost, "/api/users/poor-user/debit", map[string]any{
		"amount": 10,
		"source": "redemption",
	})
	if recorder.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d", recorder.Code)
	}
	if code := errorCode(test, recorder); code != "insufficient_balance" {
		test.Fatalf("expected insufficient_balance, got %q", code)
	}
}

func TestCreditRejectsBadRequests(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)

	recorder := perform(test, router, http.MethodPost, "/api/users/user-1/credit", map[string]any{
		"amount": 0,
		"source": "signup_bonus",
	})
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("zero amount: expected 400, got %d", recorder.Code)
	}

	recorder = perform(test, router, http.MethodPost, "/api/users/user-1/credit", map[string]any{
		"amount": 10,
		"source": "lottery",
	})
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("unknown source: expected 400, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/api/users/user-1/credit", bytes.NewReader([]byte("{not json")))
	request.Header.Set("Content-Type", "application/json")
	malformed := httptest.NewRecorder()
	router.ServeHTTP(malformed, request)
	if malformed.Code != http.StatusBadRequest {
		test.Fatalf("malformed body: expected 400, got %d", malformed.Code)
	}
}

func TestDuplicateReferenceReturnsConflict(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)
	body := map[string]any{
		"amount":    100,
		"source":    "rent_payment",
		"reference": map[string]any{"kind": "rent_payment", "id": "pay-7"},
	}
	if recorder := perform(test, router, http.MethodPost, "/api/users/user-1/credit", body); recorder.Code != http.StatusOK {
		test.Fatalf("first credit failed: %d", recorder.Code)
	}
	recorder := perform(test, router, http.MethodPost, "/api/users/user-1/credit", body)
	if recorder.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d", recorder.Code)
	}
	if code := errorCode(test, recorder); code != "duplicate_reference" {
		test.Fatalf("expected duplicate_reference, got %q", code)
	}
}

func TestRentPaymentEndpointAdvancesStreak(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)
	january := time.Date(2026, time.January, 5, 12, 0, 0, 0, time.UTC).Unix()
	february := time.Date(2026, time.February, 5, 12, 0, 0, 0, time.UTC).Unix()

	recorder := perform(test, router, http.MethodPost, "/api/users/tenant-1/rent-payment", map[string]any{
		"amount":           100,
		"paid_at_unix_utc": january,
		"reference":        map[string]any{"kind": "rent_payment", "id": "jan"},
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("january payment failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["current_streak"].(float64) != 1 || payload["bonus_awarded"].(float64) != 0 {
		test.Fatalf("unexpected january receipt: %v", payload)
	}

	recorder = perform(test, router, http.MethodPost, "/api/users/tenant-1/rent-payment", map[string]any{
		"amount":           100,
		"paid_at_unix_utc": february,
		"reference":        map[string]any{"kind": "rent_payment", "id": "feb"},
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("february payment failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload = decodeBody(test, recorder)
	if payload["current_streak"].(float64) != 2 || payload["bonus_awarded"].(float64) != 40 {
		test.Fatalf("unexpected february receipt: %v", payload)
	}
	if payload["balance"].(float64) != 240 {
		test.Fatalf("expected balance 240, got %f", payload["balance"].(float64))
	}
}

func TestLeaderboardAndStatsEndpoints(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)

	if recorder := perform(test, router, http.MethodPost, "/api/users/user-a/credit", map[string]any{"amount": 300, "source": "rent_payment"}); recorder.Code != http.StatusOK {
		test.Fatalf("credit user-a failed: %d", recorder.Code)
	}
	if recorder := perform(test, router, http.MethodPost, "/api/users/user-b/credit", map[string]any{"amount": 100, "source": "referral"}); recorder.Code != http.StatusOK {
		test.Fatalf("credit user-b failed: %d", recorder.Code)
	}
	if recorder := perform(test, router, http.MethodPut, "/api/users/user-a/display-name", map[string]any{"display_name": "Aruzhan"}); recorder.Code != http.StatusOK {
		test.Fatalf("display name failed: %d", recorder.Code)
	}

	recorder := perform(test, router, http.MethodGet, "/api/leaderboard?limit=5", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("leaderboard failed: %d", recorder.Code)
	}
	leaderboard := decodeBody(test, recorder)["leaderboard"].([]any)
	if len(leaderboard) != 2 {
		test.Fatalf("expected 2 rows, got %d", len(leaderboard))
	}
	first := leaderboard[0].(map[string]any)
	if first["masked_name"].(string) != "Aru***" || first["rank"].(float64) != 1 {
		test.Fatalf("unexpected first row: %v", first)
	}

	recorder = perform(test, router, http.MethodGet, "/api/stats", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("stats failed: %d", recorder.Code)
	}
	stats := decodeBody(test, recorder)
	if stats["circulating_supply"].(float64) != 400 || stats["holders_count"].(float64) != 2 {
		test.Fatalf("unexpected stats: %v", stats)
	}
}

func TestExpirySweepEndpoint(test *testing.T) {
	test.Parallel()
	router, clock := newTestRouter(test)

	if recorder := perform(test, router, http.MethodPost, "/api/users/sleepy-user/credit", map[string]any{"amount": 80, "source": "signup_bonus"}); recorder.Code != http.StatusOK {
		test.Fatalf("credit failed: %d", recorder.Code)
	}

	clock.now += 400 * 86_400

	recorder := perform(test, router, http.MethodPost, "/api/jobs/expiry-sweep", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("sweep failed: %d %s", recorder.Code, recorder.Body.String())
	}
	report := decodeBody(test, recorder)
	if report["accounts_processed"].(float64) != 1 || report["total_frozen"].(float64) != 80 {
		test.Fatalf("unexpected sweep report: %v", report)
	}

	recorder = perform(test, router, http.MethodGet, "/api/users/sleepy-user/balance", nil)
	payload := decodeBody(test, recorder)
	if payload["balance"].(float64) != 0 || payload["total_earned"].(float64) != 80 {
		test.Fatalf("unexpected balance after sweep: %v", payload)
	}
}

func TestExpiryWarningsEndpoint(test *testing.T) {
	test.Parallel()
	router, _ := newTestRouter(test)
	recorder := perform(test, router, http.MethodPost, "/api/jobs/expiry-warnings", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("warnings failed: %d", recorder.Code)
	}
	report := decodeBody(test, recorder)
	if report["notices_sent"].(float64) != 0 {
		test.Fatalf("expected no notices on empty ledger, got %v", report)
	}
}
