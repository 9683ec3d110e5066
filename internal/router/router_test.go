package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blues/cfledger/internal/custody"
	"github.com/blues/cfledger/internal/handler"
	"github.com/blues/cfledger/internal/logic"
	"github.com/blues/cfledger/internal/model"
	"github.com/blues/cfledger/internal/notify"
	"github.com/blues/cfledger/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	ownerAddr       = "0x00000000000000000000000000000000000000a1"
	contributorAddr = "0x00000000000000000000000000000000000000b2"
)

type testEnv struct {
	engine *gin.Engine
	vault  *custody.Vault
	hub    *notify.Hub
	now    time.Time
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	return setupTestWithHistory(t, nil)
}

func setupTestWithHistory(t *testing.T, history logic.History) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		vault: custody.NewVault(),
		hub:   notify.NewHub(),
		now:   time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
	}
	fanout, err := notify.NewFanout(2, env.hub)
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}
	t.Cleanup(fanout.Release)

	reg := registry.New(env.vault, nil, fanout)
	campaignLogic := logic.NewCampaignLogic(reg, history, func() time.Time { return env.now })
	env.engine = Setup(campaignLogic, env.hub)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body interface{}) (int, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(handler.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func (e *testEnv) createCampaign(t *testing.T, amount string) uint64 {
	t.Helper()
	code, resp := e.do(t, http.MethodPost, "/api/v1/campaigns", ownerAddr, map[string]interface{}{
		"title":               "Town library",
		"description":         "New shelves",
		"participationAmount": amount,
		"deadline":            e.now.Add(48 * time.Hour).Format(time.RFC3339),
	})
	if code != http.StatusCreated {
		t.Fatalf("create campaign: status %d, %s", code, resp.Message)
	}
	var data handler.CreateCampaignResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return data.ID
}

func TestHealth(t *testing.T) {
	env := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	env := setupTest(t)

	for want := uint64(0); want < 2; want++ {
		if id := env.createCampaign(t, "1000"); id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}

	path := "/api/v1/campaigns/0/contributions"
	for i := 0; i < 2; i++ {
		code, resp := env.do(t, http.MethodPost, path, contributorAddr, map[string]string{"amount": "1000"})
		if code != http.StatusOK {
			t.Fatalf("contribute: status %d, %s", code, resp.Message)
		}
	}

	code, resp := env.do(t, http.MethodGet, path+"/"+contributorAddr, "", nil)
	if code != http.StatusOK {
		t.Fatalf("get contribution: status %d", code)
	}
	var contribution handler.ContributionResponse
	_ = json.Unmarshal(resp.Data, &contribution)
	if contribution.Amount != "2000" {
		t.Errorf("expected contribution 2000, got %s", contribution.Amount)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/campaigns/0/withdraw", ownerAddr, nil)
	if code != http.StatusConflict {
		t.Errorf("early withdraw: expected 409, got %d", code)
	}

	env.now = env.now.Add(72 * time.Hour)

	code, _ = env.do(t, http.MethodPost, path, contributorAddr, map[string]string{"amount": "1000"})
	if code != http.StatusConflict {
		t.Errorf("late contribution: expected 409, got %d", code)
	}
	code, _ = env.do(t, http.MethodPost, "/api/v1/campaigns/0/withdraw", contributorAddr, nil)
	if code != http.StatusForbidden {
		t.Errorf("non-owner withdraw: expected 403, got %d", code)
	}

	code, resp = env.do(t, http.MethodPost, "/api/v1/campaigns/0/withdraw", ownerAddr, nil)
	if code != http.StatusOK {
		t.Fatalf("withdraw: status %d, %s", code, resp.Message)
	}
	var withdrawn handler.WithdrawResponse
	_ = json.Unmarshal(resp.Data, &withdrawn)
	if withdrawn.Amount != "2000" {
		t.Errorf("expected 2000 withdrawn, got %s", withdrawn.Amount)
	}
	if env.vault.Balance(0).Sign() != 0 {
		t.Errorf("expected custody released, got %s", env.vault.Balance(0))
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/campaigns/0/withdraw", ownerAddr, nil)
	if code != http.StatusConflict {
		t.Errorf("second withdraw: expected 409, got %d", code)
	}
	code, _ = env.do(t, http.MethodPost, "/api/v1/campaigns/1/withdraw", ownerAddr, nil)
	if code != http.StatusConflict {
		t.Errorf("empty withdraw: expected 409, got %d", code)
	}

	code, resp = env.do(t, http.MethodGet, "/api/v1/campaigns/0", "", nil)
	if code != http.StatusOK {
		t.Fatalf("get campaign: status %d", code)
	}
	var campaign handler.CampaignResponse
	_ = json.Unmarshal(resp.Data, &campaign)
	if campaign.Status != string(registry.CampaignStatusWithdrawn) || campaign.TotalFundingAmount != "2000" {
		t.Errorf("unexpected campaign %+v", campaign)
	}

	code, resp = env.do(t, http.MethodGet, "/api/v1/campaigns?status=closed", "", nil)
	if code != http.StatusOK {
		t.Fatalf("list campaigns: status %d", code)
	}
	var list handler.GetCampaignsResponse
	_ = json.Unmarshal(resp.Data, &list)
	if list.Total != 1 || list.Campaigns[0].ID != 1 {
		t.Errorf("expected only campaign 1 closed, got %+v", list)
	}
}

func TestRequestErrors(t *testing.T) {
	env := setupTest(t)
	env.createCampaign(t, "10")

	usedTxHash := "0x" + strings.Repeat("cd", 32)
	if code, resp := env.do(t, http.MethodPost, "/api/v1/campaigns/0/contributions", contributorAddr, map[string]string{"amount": "10", "txHash": usedTxHash}); code != http.StatusOK {
		t.Fatalf("contribute: status %d, %s", code, resp.Message)
	}

	cases := []struct {
		name   string
		method string
		path   string
		caller string
		body   interface{}
		want   int
	}{
		{"missing caller", http.MethodPost, "/api/v1/campaigns/0/contributions", "", map[string]string{"amount": "10"}, http.StatusUnauthorized},
		{"bad caller", http.MethodPost, "/api/v1/campaigns/0/contributions", "alice", map[string]string{"amount": "10"}, http.StatusUnauthorized},
		{"bad id", http.MethodGet, "/api/v1/campaigns/abc", "", nil, http.StatusBadRequest},
		{"unknown campaign", http.MethodGet, "/api/v1/campaigns/5", "", nil, http.StatusNotFound},
		{"unknown contribution campaign", http.MethodGet, "/api/v1/campaigns/5/contributions/" + contributorAddr, "", nil, http.StatusNotFound},
		{"contribute unknown", http.MethodPost, "/api/v1/campaigns/5/contributions", contributorAddr, map[string]string{"amount": "10"}, http.StatusNotFound},
		{"wrong amount", http.MethodPost, "/api/v1/campaigns/0/contributions", contributorAddr, map[string]string{"amount": "9"}, http.StatusBadRequest},
		{"malformed amount", http.MethodPost, "/api/v1/campaigns/0/contributions", contributorAddr, map[string]string{"amount": "ten"}, http.StatusBadRequest},
		{"short tx hash", http.MethodPost, "/api/v1/campaigns/0/contributions", contributorAddr, map[string]string{"amount": "10", "txHash": "0x12"}, http.StatusBadRequest},
		{"reused tx hash", http.MethodPost, "/api/v1/campaigns/0/contributions", contributorAddr, map[string]string{"amount": "10", "txHash": usedTxHash}, http.StatusBadRequest},
		{"bad contributor path", http.MethodGet, "/api/v1/campaigns/0/contributions/xyz", "", nil, http.StatusBadRequest},
		{"history without db", http.MethodGet, "/api/v1/campaigns/0/contributions", "", nil, http.StatusServiceUnavailable},
		{"empty title", http.MethodPost, "/api/v1/campaigns", ownerAddr, map[string]string{
			"description": "d", "participationAmount": "1", "deadline": env.now.Add(time.Hour).Format(time.RFC3339),
		}, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/api/v1/campaigns", ownerAddr, map[string]string{
			"title": "t", "description": "d", "participationAmount": "0", "deadline": env.now.Add(time.Hour).Format(time.RFC3339),
		}, http.StatusBadRequest},
		{"past deadline", http.MethodPost, "/api/v1/campaigns", ownerAddr, map[string]string{
			"title": "t", "description": "d", "participationAmount": "1", "deadline": env.now.Add(-time.Hour).Format(time.RFC3339),
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := env.do(t, tc.method, tc.path, tc.caller, tc.body)
			if code != tc.want {
				t.Errorf("expected %d, got %d (%s)", tc.want, code, resp.Message)
			}
			if resp.Success {
				t.Error("expected success=false")
			}
		})
	}
}

func TestEventStream(t *testing.T) {
	env := setupTest(t)
	ts := httptest.NewServer(env.engine)
	defer ts.Close()
	defer env.hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+ts.URL[4:]+"/api/v1/events/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	id := env.createCampaign(t, "42")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event registry.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Kind != registry.EventCampaignCreated || event.CampaignID != id || event.Seq != 1 {
		t.Errorf("unexpected event %+v", event)
	}
	if got := fmt.Sprint(event.ParticipationAmount); got != "42" {
		t.Errorf("expected participation amount 42, got %s", got)
	}
	if event.Deadline == nil || !event.Deadline.Equal(env.now.Add(48*time.Hour)) {
		t.Errorf("expected created event deadline, got %v", event.Deadline)
	}

	path := fmt.Sprintf("/api/v1/campaigns/%d/contributions", id)
	if code, resp := env.do(t, http.MethodPost, path, contributorAddr, map[string]string{"amount": "42"}); code != http.StatusOK {
		t.Fatalf("contribute: status %d, %s", code, resp.Message)
	}

	var raw map[string]json.RawMessage
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if kind := string(raw["kind"]); kind != `"`+string(registry.EventCampaignParticipated)+`"` {
		t.Fatalf("expected participation event, got %s", kind)
	}
	if _, ok := raw["deadline"]; ok {
		t.Errorf("participation event must not carry a deadline: %s", raw["deadline"])
	}
}

type pagedHistory struct {
	page, pageSize int
}

func (h *pagedHistory) ListContributionRecords(_ context.Context, campaignID uint64, page, pageSize int) ([]model.ContributionRecordModel, int64, error) {
	h.page, h.pageSize = page, pageSize
	return []model.ContributionRecordModel{{CampaignId: int64(campaignID), Amount: "10"}}, 45, nil
}

func TestContributionRecordsPagination(t *testing.T) {
	history := &pagedHistory{}
	env := setupTestWithHistory(t, history)
	env.createCampaign(t, "10")

	cases := []struct {
		query              string
		wantPage, wantSize int
		wantTotalPage      int64
	}{
		{"", 1, 20, 3},
		{"?page=0&page_size=500", 1, 20, 3},
		{"?page=2&page_size=abc", 2, 20, 3},
		{"?page=3&page_size=10", 3, 10, 5},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			code, resp := env.do(t, http.MethodGet, "/api/v1/campaigns/0/contributions"+tc.query, "", nil)
			if code != http.StatusOK {
				t.Fatalf("status %d, %s", code, resp.Message)
			}
			var data handler.GetContributionRecordsResponse
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				t.Fatalf("decode records: %v", err)
			}
			p := data.Pagination
			if p.Page != tc.wantPage || p.PageSize != tc.wantSize || p.TotalPage != tc.wantTotalPage {
				t.Errorf("expected %d/%d of %d pages, got %+v", tc.wantPage, tc.wantSize, tc.wantTotalPage, p)
			}
			if history.page != p.Page || history.pageSize != p.PageSize {
				t.Errorf("reported paging %d/%d differs from query %d/%d", p.Page, p.PageSize, history.page, history.pageSize)
			}
		})
	}
}
