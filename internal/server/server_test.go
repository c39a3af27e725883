package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tutelliv/internal/bus"
	"tutelliv/internal/config"
	"tutelliv/internal/domain"
	"tutelliv/internal/engine"
	"tutelliv/internal/journal"
	"tutelliv/internal/token"
	sdk "tutelliv/sdk/go"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, now time.Time) *testServer {
	t.Helper()
	conn, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open journal db: %v", err)
	}
	cfg := config.Default()
	log := zerolog.Nop()
	clock := func() time.Time { return now }
	jw := &journal.Writer{DB: conn, Now: clock}
	eng := engine.New(bus.New(log), jw, log)
	eng.Now = clock
	tokens := token.Service{Secret: []byte(cfg.Auth.Secret), Now: clock}

	handler, err := New(Config{
		Engine: &eng,
		Tokens: tokens,
		Users:  cfg,
		Log:    log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: &eng,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, tok string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func login(t *testing.T, ts *testServer, email, password string) string {
	t.Helper()
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/auth/login", LoginRequest{Email: email, Password: password}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d: %s", resp.StatusCode, data)
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.AccessToken
}

func TestNewRequiresWiredEngine(t *testing.T) {
	log := zerolog.Nop()
	if _, err := New(Config{Log: log}); err == nil {
		t.Error("nil engine accepted")
	}
	eng := engine.New(nil, nil, log)
	if _, err := New(Config{Engine: &eng, Log: log}); err == nil {
		t.Error("engine without journal accepted")
	}
	conn, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open journal db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	eng.Journal = &journal.Writer{DB: conn}
	if _, err := New(Config{Engine: &eng, Log: log}); err == nil {
		t.Error("engine without bus accepted")
	}
	eng.Bus = bus.New(log)
	if _, err := New(Config{Engine: &eng, Users: config.Default(), Log: log}); err != nil {
		t.Errorf("fully wired engine rejected: %v", err)
	}
}

func TestLoginAndMe(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/auth/login", LoginRequest{Email: "mjpm@example.com", Password: "wrong"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d: %s", resp.StatusCode, data)
	}

	tok := login(t, ts, "mjpm@example.com", "mjpm123")
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/auth/me", nil, tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d: %s", resp.StatusCode, data)
	}
	var me domain.User
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "mjpm@example.com" || me.Role != domain.RoleMJPM {
		t.Errorf("me = %+v", me)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/missions", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Errorf("code = %q, want unauthorized", envelope.Error.Code)
	}
}

func TestTokenFromQueryAndCookie(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	tok := login(t, ts, "mjpm@example.com", "mjpm123")

	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/stats?token="+tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token status = %d: %s", resp.StatusCode, data)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/stats", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tok})
	resp2, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("cookie request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("cookie token status = %d", resp2.StatusCode)
	}
}

func TestBeneficiaryCRUD(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	tok := login(t, ts, "mjpm@example.com", "mjpm123")

	b := BeneficiaryRequest{ID: 1, FirstName: "Jean", LastName: "Dupont", Address: "1 rue de la Paix"}
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/beneficiaries", b, tok)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, data)
	}
	var created domain.Beneficiary
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !created.IsActive {
		t.Error("is_active should default to true")
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/beneficiaries", b, tok)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d: %s", resp.StatusCode, data)
	}

	b.City = "Lyon"
	resp, data = doJSON(t, ts.client, http.MethodPut, ts.URL+"/beneficiaries/1", b, tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/beneficiaries/1", nil, tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %s", resp.StatusCode, data)
	}
	var got domain.Beneficiary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.City != "Lyon" {
		t.Errorf("city = %q, want Lyon", got.City)
	}

	resp, _ = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/beneficiaries/1", nil, tok)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/beneficiaries/1", nil, tok)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestMissionDeliveryFlow(t *testing.T) {
	// Create Monday June 3, deliver Tuesday June 4.
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	mjpmTok := login(t, ts, "mjpm@example.com", "mjpm123")
	delivTok := login(t, ts, "livreur@example.com", "livreur123")

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/missions", MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses"},
	}, mjpmTok)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, data)
	}
	var m domain.Mission
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode mission: %v", err)
	}
	if m.CalendarStart != "2024-06-03" || m.CalendarEnd != "2024-06-06" {
		t.Errorf("window = %s..%s, want 2024-06-03..2024-06-06", m.CalendarStart, m.CalendarEnd)
	}

	// The MJPM cannot flip the status.
	resp, data = doJSON(t, ts.client, http.MethodPut, ts.URL+"/missions/"+m.ID, MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses"},
		Status:        domain.MissionDelivered,
	}, mjpmTok)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("mjpm status change = %d: %s", resp.StatusCode, data)
	}

	ts.Engine.Now = func() time.Time { return time.Date(2024, 6, 4, 15, 0, 0, 0, time.UTC) }
	resp, data = doJSON(t, ts.client, http.MethodPut, ts.URL+"/missions/"+m.ID, MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses"},
		Status:        domain.MissionDelivered,
	}, delivTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deliver status = %d: %s", resp.StatusCode, data)
	}
	var delivered domain.Mission
	if err := json.Unmarshal(data, &delivered); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if delivered.CalendarEnd != "2024-06-05" {
		t.Errorf("frozen end = %q, want 2024-06-05", delivered.CalendarEnd)
	}
	if delivered.DeliveredAt == nil {
		t.Error("delivered_at missing")
	}

	// Linked invoice moved to pending.
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/invoices", nil, mjpmTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list invoices = %d: %s", resp.StatusCode, data)
	}
	var invoices []domain.Invoice
	if err := json.Unmarshal(data, &invoices); err != nil {
		t.Fatalf("decode invoices: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
	if invoices[0].Status != domain.InvoicePending {
		t.Errorf("invoice status = %q, want pending", invoices[0].Status)
	}

	// Content edits are locked after delivery.
	resp, data = doJSON(t, ts.client, http.MethodPut, ts.URL+"/missions/"+m.ID, MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses", "pharmacie"},
	}, mjpmTok)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("locked edit status = %d: %s", resp.StatusCode, data)
	}
}

func TestInvoicePDFDownload(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	tok := login(t, ts, "mjpm@example.com", "mjpm123")

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/missions", MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses"},
	}, tok)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create mission = %d: %s", resp.StatusCode, data)
	}
	var m domain.Mission
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/invoices", nil, tok)
	var invoices []domain.Invoice
	if err := json.Unmarshal(data, &invoices); err != nil || len(invoices) == 0 {
		t.Fatalf("list invoices: %v %s", err, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/invoices/"+invoices[0].ID+"/pdf?token="+tok, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pdf status = %d: %s", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Errorf("content-disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) {
		t.Errorf("pdf header = %q", data[:min(len(data), 8)])
	}
}

func TestEstimate(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	tok := login(t, ts, "mjpm@example.com", "mjpm123")

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/estimate", map[string]any{
		"items": []map[string]any{
			{"name": "pain", "quantity": 2, "unit_price": 1.5},
			{"name": "lait", "quantity": 3, "unit_price": 1.0},
		},
	}, tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("estimate status = %d: %s", resp.StatusCode, data)
	}
	var out struct {
		Subtotal float64 `json:"subtotal"`
		TVA      float64 `json:"tva"`
		Total    float64 `json:"total"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Subtotal != 6.0 || out.TVA != 2.32 || out.Total != 13.92 {
		t.Errorf("breakdown = %+v", out)
	}
}

func TestEventsHistory(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	tok := login(t, ts, "mjpm@example.com", "mjpm123")

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/missions", MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses"},
	}, tok)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create mission = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/events?limit=10", nil, tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d: %s", resp.StatusCode, data)
	}
	var out EventsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(out.Events) == 0 {
		t.Fatal("no events recorded")
	}
	if out.Events[0].Type != "mission.created" {
		t.Errorf("first event = %q, want mission.created", out.Events[0].Type)
	}
}

func TestSDKRoundTrip(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	c := sdk.New(ts.URL)
	res, err := c.Login(ctx, "mjpm@example.com", "mjpm123")
	if err != nil {
		t.Fatalf("sdk login: %v", err)
	}
	if res.User.Role != domain.RoleMJPM {
		t.Errorf("role = %q", res.User.Role)
	}

	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("sdk me: %v", err)
	}
	if me.Email != "mjpm@example.com" {
		t.Errorf("me = %+v", me)
	}

	doJSON(t, ts.client, http.MethodPost, ts.URL+"/missions", MissionRequest{
		BeneficiaryID: 7,
		Categories:    []string{"courses"},
	}, c.BearerToken)

	missions, err := c.ListMissions(ctx)
	if err != nil {
		t.Fatalf("sdk list missions: %v", err)
	}
	if len(missions) != 1 {
		t.Fatalf("missions = %d, want 1", len(missions))
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("sdk stats: %v", err)
	}
	if stats.MissionsInProgress != 1 {
		t.Errorf("missions_in_progress = %d, want 1", stats.MissionsInProgress)
	}
	events, err := c.Events(ctx, 10, 0)
	if err != nil {
		t.Fatalf("sdk events: %v", err)
	}
	if len(events) == 0 {
		t.Error("no journal events via sdk")
	}

	var apiErr *sdk.APIError
	c.BearerToken = "not-a-token"
	if _, err := c.ListMissions(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token err = %v", err)
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	tok := login(t, ts, "mjpm@example.com", "mjpm123")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream?token="+tok, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	preamble, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if !strings.HasPrefix(preamble, ": connected") {
		t.Fatalf("preamble = %q", preamble)
	}

	// Trigger an event once subscribed.
	go func() {
		body, _ := json.Marshal(MissionRequest{BeneficiaryID: 7, Categories: []string{"courses"}})
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/missions", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		if resp, err := ts.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		if frame.Type != "mission.created" {
			t.Errorf("frame type = %q, want mission.created", frame.Type)
		}
		return
	}
}
