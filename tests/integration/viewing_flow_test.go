package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/propview/viewings/backend/internal/auth"
	"github.com/propview/viewings/backend/internal/database"
	"github.com/propview/viewings/backend/internal/invites"
	"github.com/propview/viewings/backend/internal/mailer"
	"github.com/propview/viewings/backend/internal/records"
	"github.com/propview/viewings/backend/internal/server"
	"github.com/propview/viewings/backend/internal/users"
	"go.uber.org/zap"
)

const (
	signingSecret   = "integration-secret"
	jsonContentType = "application/json"
)

type capturingTransport struct {
	sent []mailer.Message
}

func (t *capturingTransport) Send(ctx context.Context, msg mailer.Message) error {
	t.sent = append(t.sent, msg)
	return nil
}

func TestInvitationLifecycle(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.Open(filepath.Join(testContext.TempDir(), "integration.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	store, err := records.NewStore(records.StoreConfig{
		Database:   db,
		IDProvider: records.NewBase36Provider(0),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	inviteService, err := invites.NewService(invites.ServiceConfig{
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build invite service: %v", err)
	}
	transport := &capturingTransport{}
	dispatcher, err := mailer.NewDispatcher(mailer.DispatcherConfig{
		Transport:     transport,
		Details:       inviteService,
		Enabled:       true,
		PublicBaseURL: "http://localhost:3000",
		MaxInFlight:   1,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build dispatcher: %v", err)
	}
	accountService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build account service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:      store,
		Invites:    inviteService,
		Dispatcher: dispatcher,
		Accounts:   accountService,
		Tokens:     auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(signingSecret)}),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	login := postJSON(testContext, testServer, "/login", map[string]any{
		"un": "test@user.com", "pw": "password",
	})
	if login["success"] != true {
		testContext.Fatalf("demo login failed: %v", login)
	}

	viewing := postJSON(testContext, testServer, "/viewings/add", map[string]any{
		"viewing": map[string]any{
			"name":          "Open house",
			"location":      "12 Elm Street",
			"date_and_time": "2026-03-14T15:00:00Z",
			"max_attendees": 1,
		},
	})
	viewingID, _ := viewing["new_id"].(string)
	if viewingID == "" {
		testContext.Fatalf("viewing creation failed: %v", viewing)
	}

	leadIDs := make([]string, 0, 2)
	for _, name := range []string{"ada", "grace"} {
		lead := postJSON(testContext, testServer, "/leads/add", map[string]any{
			"lead": map[string]any{
				"first_name": name,
				"last_name":  "Example",
				"email":      name + "@example.com",
			},
		})
		leadID, _ := lead["new_id"].(string)
		if leadID == "" {
			testContext.Fatalf("lead creation failed: %v", lead)
		}
		leadIDs = append(leadIDs, leadID)
	}

	marked := postJSON(testContext, testServer, "/invites/mark", map[string]any{
		"viewing_id": viewingID,
		"leadIDs":    leadIDs,
	})
	if summaries, _ := marked["invites"].([]any); len(summaries) != 2 {
		testContext.Fatalf("expected 2 marked invites: %v", marked)
	}

	emailed := postJSON(testContext, testServer, "/invites/email", map[string]any{
		"viewing_id": viewingID,
		"leadIDs":    leadIDs,
	})
	if emailed["emails_sent"] != float64(2) {
		testContext.Fatalf("expected 2 emails attempted: %v", emailed)
	}
	if len(transport.sent) != 2 {
		testContext.Fatalf("expected 2 deliveries through the transport, got %d", len(transport.sent))
	}

	first := postJSON(testContext, testServer, "/invites/confirm/"+leadIDs[0]+"/"+viewingID, nil)
	if first["success"] != true || first["status"] != "success" {
		testContext.Fatalf("unexpected first confirmation: %v", first)
	}

	second := postJSON(testContext, testServer, "/invites/confirm/"+leadIDs[1]+"/"+viewingID, nil)
	if second["success"] != false || second["status"] != "full" {
		testContext.Fatalf("expected the capacity cap to reject the second lead: %v", second)
	}

	repeat := postJSON(testContext, testServer, "/invites/confirm/"+leadIDs[0]+"/"+viewingID, nil)
	if repeat["success"] != false || repeat["status"] != "already_accepted" {
		testContext.Fatalf("expected idempotent repeat confirmation: %v", repeat)
	}

	tables := postJSON(testContext, testServer, "/tables", nil)
	viewings, _ := tables["viewings"].([]any)
	if len(viewings) != 1 {
		testContext.Fatalf("expected one viewing in the dashboard: %v", tables)
	}
	row := viewings[0].(map[string]any)
	if row["attending"] != float64(1) {
		testContext.Fatalf("expected attending=1 after the flow, got %v", row["attending"])
	}
}

func postJSON(testContext *testing.T, testServer *httptest.Server, path string, payload any) map[string]any {
	testContext.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
	}
	response, err := http.Post(testServer.URL+path, jsonContentType, &body)
	if err != nil {
		testContext.Fatalf("request to %s failed: %v", path, err)
	}
	defer response.Body.Close()

	decoded := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		testContext.Fatalf("failed to decode response from %s: %v", path, err)
	}
	return decoded
}
