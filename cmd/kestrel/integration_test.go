//go:build integration

// End-to-end tests against a running Kestrel with the default configuration
// and no rules loaded. Every scenario uses fresh subject ids, so the suite can
// run repeatedly against the same database.
//
// Run with: go test -tags=integration -v ./cmd/kestrel/...
package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// monday10 is inside the school day, so no time of day indicator fires.
var monday10 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func baseURL() string {
	if u := os.Getenv("KESTREL_TEST_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func post(t *testing.T, path string, body any, headers ...string) (int, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL()+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func score(t *testing.T, path string, body any) api.ScoreResponse {
	t.Helper()
	status, raw := post(t, path, body)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, raw)
	}
	var result api.ScoreResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, raw)
	}
	return result
}

func login(t *testing.T, userID, city, country string, at time.Time) api.ScoreResponse {
	t.Helper()
	return score(t, "/v1/score/login", api.LoginRequest{
		UserID:       userID,
		LoginContext: domain.LoginContext{IPAddress: "41.90.1.1", OS: "Android", Browser: "Chrome", City: city, Country: country},
		OccurredAt:   &at,
	})
}

func TestLogin_CountrySwitchOpensCase(t *testing.T) {
	/*
	   SCENARIO: a student logs in twice from Nairobi, then from Lagos an hour later

	   EXPECTED BEHAVIOR:
	   - first login: no history, nothing to compare against -> allow
	   - second login: same place -> allow
	   - third login: new country (0.6) beats country switch (0.55) -> manual_review
	     and a pending case the reviewer can work through
	*/
	user := "it-" + uuid.NewString()

	if d := login(t, user, "Nairobi", "KE", monday10); d.Action != domain.ActionAllow {
		t.Fatalf("Expected allow for first login, got %s", d.Action)
	}
	if d := login(t, user, "Nairobi", "KE", monday10.Add(30*time.Minute)); d.Action != domain.ActionAllow {
		t.Fatalf("Expected allow for repeat login, got %s", d.Action)
	}

	d := login(t, user, "Lagos", "NG", monday10.Add(time.Hour))
	if d.Action != domain.ActionManualReview {
		t.Fatalf("Expected manual_review, got %s (score %.2f)", d.Action, d.RiskScore)
	}
	if d.CaseID == "" {
		t.Fatal("Expected a case id")
	}

	status, raw := post(t, "/v1/cases/"+d.CaseID+"/status",
		api.CaseStatusRequest{Status: domain.CaseStatusInvestigating}, api.ReviewerIDHeader, "it-analyst")
	if status != http.StatusOK {
		t.Fatalf("Expected 200 moving to investigating, got %d: %s", status, raw)
	}
	status, raw = post(t, "/v1/cases/"+d.CaseID+"/status",
		api.CaseStatusRequest{Status: domain.CaseStatusResolved, Notes: "confirmed travel"}, api.ReviewerIDHeader, "it-analyst")
	if status != http.StatusOK {
		t.Fatalf("Expected 200 resolving, got %d: %s", status, raw)
	}
	status, _ = post(t, "/v1/cases/"+d.CaseID+"/status",
		api.CaseStatusRequest{Status: domain.CaseStatusPending}, api.ReviewerIDHeader, "it-analyst")
	if status != http.StatusConflict {
		t.Errorf("Expected 409 reopening a resolved case, got %d", status)
	}
}

func TestAccess_ImpossibleTravel(t *testing.T) {
	/*
	   SCENARIO: a card is read at the library, then at the lab 90 seconds later

	   EXPECTED BEHAVIOR:
	   - impossible travel (0.45) -> flag
	*/
	card := "it-card-" + uuid.NewString()
	read := func(reader, location string, at time.Time) api.ScoreResponse {
		return score(t, "/v1/score/access", api.AccessRequest{
			AccessContext: domain.AccessContext{CredentialID: card, ReaderID: reader, LocationID: location, Direction: domain.DirectionEntry},
			OccurredAt:    &at,
		})
	}

	if d := read("lib-1", "library", monday10); d.Action != domain.ActionAllow {
		t.Fatalf("Expected allow for first read, got %s", d.Action)
	}
	d := read("lab-1", "lab", monday10.Add(90*time.Second))
	if d.Action != domain.ActionFlag {
		t.Errorf("Expected flag, got %s (score %.2f)", d.Action, d.RiskScore)
	}
}

func TestOnboarding_DuplicateEmail(t *testing.T) {
	/*
	   SCENARIO: two accounts register with the same email

	   EXPECTED BEHAVIOR:
	   - first registration -> allow
	   - second registration: duplicate email (0.5) -> flag
	*/
	email := "it-" + uuid.NewString() + "@example.com"
	register := func(userID string) api.ScoreResponse {
		return score(t, "/v1/score/onboarding", api.OnboardingRequest{
			Candidate: domain.Candidate{UserID: userID, Email: email},
			Request: domain.RegistrationRequest{
				Interaction: &domain.InteractionMetrics{FormCompletionSecs: 90, PointerEvents: 30},
			},
			OccurredAt: &monday10,
		})
	}

	if d := register("it-" + uuid.NewString()); d.Action != domain.ActionAllow {
		t.Fatalf("Expected allow for first registration, got %s", d.Action)
	}
	d := register("it-" + uuid.NewString())
	if d.Action != domain.ActionFlag {
		t.Errorf("Expected flag, got %s (score %.2f)", d.Action, d.RiskScore)
	}
}

func TestIngest_RejectsUnknownCategory(t *testing.T) {
	status, raw := post(t, "/v1/events", domain.Event{Category: "payment", SubjectID: "it-x", OccurredAt: monday10})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", status, raw)
	}
}
