package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callpay-platform/internal/accounts"
	"callpay-platform/internal/auth"
	"callpay-platform/internal/calls"
	"callpay-platform/internal/ledger"
	"callpay-platform/internal/notify"
	"callpay-platform/internal/presence"
	"callpay-platform/internal/rates"
)

type testAPI struct {
	router *gin.Engine
	coins  *ledger.MemoryRepo
}

// identityAs injects the authenticated user directly, standing in for
// the JWT middleware.
func identityAs(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The service reads identity from the request context, same as
		// auth.RequireAccessToken would leave it.
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), userID, role))
		c.Set("user_id", userID)
		c.Set("role", role)
		c.Next()
	}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ratesRepo := rates.NewMemoryRepo()
	ratesRepo.Rate[rates.CallKindAudio] = rates.CallRate{Kind: rates.CallKindAudio, CoinsPerMinute: 60, Enabled: true}
	ratesRepo.Settings = rates.Settings{CommissionPercent: 50, CoinToCurrencyRate: 0.5, Currency: "USD"}

	users := accounts.NewMemoryRepo()
	users.Put(accounts.Account{ID: "alice", Role: accounts.RoleParticipant})
	users.Put(accounts.Account{ID: "bob", Role: accounts.RoleResponder, Online: true, AudioEnabled: true})

	coins := ledger.NewMemoryRepo()
	coins.SetBalance("alice", 100)

	sched := calls.NewTerminationScheduler()
	t.Cleanup(sched.Shutdown)

	svc := calls.NewService(calls.Deps{
		Repo:     calls.NewMemoryRepo(),
		Accounts: users,
		Rates:    rates.NewService(ratesRepo),
		Ledger:   ledger.NewService(coins),
		Lock:     presence.NewMemoryLock(),
		Dispatch: notify.NewRecorder(),
		Sched:    sched,
	}, calls.Options{RingTimeout: time.Minute, ConnectTimeout: 5 * time.Minute, MinCallSeconds: 60})

	h := Handlers{Calls: svc, Ledger: ledger.NewService(coins)}

	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/calls", identityAs("alice", "participant"), h.InitiateCall)
		v1.POST("/calls/:call_id/accept", identityAs("bob", "responder"), h.AcceptCall)
		v1.POST("/calls/:call_id/reject", identityAs("bob", "responder"), h.RejectCall)
		v1.POST("/calls/:call_id/confirm", identityAs("alice", "participant"), h.ConfirmCall)
		v1.POST("/calls/:call_id/end", identityAs("alice", "participant"), h.EndCall)
		v1.GET("/calls/:call_id", identityAs("alice", "participant"), h.CallStatus)
		v1.GET("/coins/balance", identityAs("alice", "participant"), h.GetBalance)
		v1.POST("/coins/credit", identityAs("alice", "participant"), h.CreditCoins)
		v1.GET("/earnings", identityAs("bob", "responder"), h.GetEarnings)
	}
	return &testAPI{router: r, coins: coins}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/v1/calls", gin.H{"responder_id": "bob", "kind": "audio"})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: status %d body %v", w.Code, body)
	}
	callID, _ := body["id"].(string)
	if callID == "" {
		t.Fatalf("initiate returned no call id: %v", body)
	}

	if w, body = api.do(t, http.MethodPost, "/v1/calls/"+callID+"/accept", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %v", w.Code, body)
	}
	if w, body = api.do(t, http.MethodPost, "/v1/calls/"+callID+"/confirm", nil); w.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body %v", w.Code, body)
	}
	if body["status"] != "active" {
		t.Fatalf("confirm status = %v, want active", body["status"])
	}
	if body["max_duration_seconds"].(float64) != 100 {
		t.Fatalf("budget = %v, want 100", body["max_duration_seconds"])
	}

	if w, body = api.do(t, http.MethodPost, "/v1/calls/"+callID+"/end", nil); w.Code != http.StatusOK {
		t.Fatalf("end: status %d body %v", w.Code, body)
	}
	if body["status"] != "ended" {
		t.Fatalf("end status = %v, want ended", body["status"])
	}

	if w, body = api.do(t, http.MethodGet, "/v1/calls/"+callID, nil); w.Code != http.StatusOK || body["status"] != "ended" {
		t.Fatalf("status: %d %v", w.Code, body)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	api := newTestAPI(t)

	// Unknown call.
	w, body := api.do(t, http.MethodGet, "/v1/calls/nope", nil)
	if w.Code != http.StatusNotFound || body["code"] != "CALL_NOT_FOUND" {
		t.Fatalf("unknown call: %d %v", w.Code, body)
	}

	// Disabled kind.
	w, body = api.do(t, http.MethodPost, "/v1/calls", gin.H{"responder_id": "bob", "kind": "video"})
	if w.Code != http.StatusUnprocessableEntity || body["code"] != "FEATURE_DISABLED" {
		t.Fatalf("disabled kind: %d %v", w.Code, body)
	}

	// Busy responder.
	if w, body = api.do(t, http.MethodPost, "/v1/calls", gin.H{"responder_id": "bob", "kind": "audio"}); w.Code != http.StatusCreated {
		t.Fatalf("first initiate: %d %v", w.Code, body)
	}
	w, body = api.do(t, http.MethodPost, "/v1/calls", gin.H{"responder_id": "bob", "kind": "audio"})
	if w.Code != http.StatusConflict || body["code"] != "RESPONDER_IN_CALL" {
		t.Fatalf("busy responder: %d %v", w.Code, body)
	}
}

func TestInsufficientCoinsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.coins.SetBalance("alice", 10)

	w, body := api.do(t, http.MethodPost, "/v1/calls", gin.H{"responder_id": "bob", "kind": "audio"})
	if w.Code != http.StatusPaymentRequired || body["code"] != "INSUFFICIENT_COINS" {
		t.Fatalf("status %d body %v", w.Code, body)
	}
}

func TestCreditAndBalanceOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/v1/coins/credit", gin.H{"coins": 50, "idempotency_key": "topup-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("credit: %d %v", w.Code, body)
	}
	if body["coins"].(float64) != 150 {
		t.Fatalf("balance after credit = %v, want 150", body["coins"])
	}

	// Same key replays without double-posting.
	if w, body = api.do(t, http.MethodPost, "/v1/coins/credit", gin.H{"coins": 50, "idempotency_key": "topup-1"}); w.Code != http.StatusOK || body["coins"].(float64) != 150 {
		t.Fatalf("replayed credit: %d %v", w.Code, body)
	}

	// Invalid amount.
	if w, body = api.do(t, http.MethodPost, "/v1/coins/credit", gin.H{"coins": -5, "idempotency_key": "topup-2"}); w.Code != http.StatusBadRequest {
		t.Fatalf("negative credit: %d %v", w.Code, body)
	}

	if w, body = api.do(t, http.MethodGet, "/v1/coins/balance", nil); w.Code != http.StatusOK || body["coins"].(float64) != 150 {
		t.Fatalf("balance: %d %v", w.Code, body)
	}
}
