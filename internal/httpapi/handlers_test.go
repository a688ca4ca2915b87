package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/reconcile"
	"callbilling/internal/wallet"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *calls.MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := calls.NewMemoryRepo()
	h := Handlers{
		Wallet:    wallet.NewService(wallet.NewMemoryStore()),
		Calls:     calls.NewService(repo, 2100, 10*time.Second),
		Reconcile: reconcile.NewService(repo),
	}

	r := gin.New()
	r.GET("/healthz", h.Healthz)
	v1 := r.Group("/v1")
	{
		v1.POST("/wallets/:user_id/topup", h.TopUp)
		v1.GET("/wallets/:user_id/balance", h.GetBalance)
		v1.POST("/calls", h.CreateCall)
		v1.POST("/calls/:call_id/connect", h.ConnectCall)
		v1.POST("/calls/:call_id/hangup", h.HangupCall)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.GET("/reconciliation/drift", h.DriftReport)
	}
	return r, repo
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTopUpAndBalance(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/alice/topup", `{"amount_micros":5000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("topup status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/v1/wallets/alice/balance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("balance status = %d", w.Code)
	}
	var got wallet.Wallet
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.BalanceMicros != 5000 {
		t.Fatalf("balance = %d, want 5000", got.BalanceMicros)
	}
}

func TestTopUp_RejectsNonPositiveAmount(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/alice/topup", `{"amount_micros":0}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/wallets/alice/topup", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCallLifecycleEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/calls", `{"caller_id":"alice","callee_id":"bob"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != calls.CallStatusRinging || created.RateMicrosPerSecond != 2100 {
		t.Fatalf("created = %+v", created)
	}
	if created.FreeUntil == nil {
		t.Fatalf("expected configured free window on new call")
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/"+created.ID+"/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d", w.Code)
	}

	// Double connect conflicts.
	w = doJSON(t, r, http.MethodPost, "/v1/calls/"+created.ID+"/connect", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("double connect status = %d, want 409", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/"+created.ID+"/hangup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("hangup status = %d", w.Code)
	}
	var ended calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &ended); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ended.Status != calls.CallStatusEnded || ended.EndReason != calls.EndReasonNormal {
		t.Fatalf("ended = %+v", ended)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/calls/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing call status = %d, want 404", w.Code)
	}
}

func TestDriftReportEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/reconciliation/drift?from=bad&to=2026-03-01T13:00:00Z", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad from status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodGet,
		"/v1/reconciliation/drift?from=2026-03-01T12:00:00Z&to=2026-03-01T13:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var rep reconcile.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rep.CallsChecked != 0 {
		t.Fatalf("calls checked = %d, want 0 on empty store", rep.CallsChecked)
	}
}
