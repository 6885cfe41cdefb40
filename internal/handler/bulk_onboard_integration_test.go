package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/service"
	"github.com/kursadbilgin/onboard-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestBulkOnboardIntegration_Accepted(t *testing.T) {
	t.Parallel()

	svc := &stubOnboardingService{
		bulkOnboardFn: func(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error) {
			if len(inputs) != 2 {
				t.Fatalf("inputs = %d, want 2", len(inputs))
			}
			if inputs[0].ContactEmail == nil || *inputs[0].ContactEmail != "ops@acme.example" {
				t.Fatalf("contact email = %v, want ops@acme.example", inputs[0].ContactEmail)
			}
			return &service.BulkOnboardResult{
				BatchID:            "batch-1",
				TotalOrganizations: 2,
				Status:             domain.BatchStatusProcessing,
			}, nil
		},
	}

	app := newBulkOnboardTestApp(t, svc)

	body := `[{"name":"Acme","domain":"acme.example","contact_email":"ops@acme.example"},{"name":"Globex","domain":"globex.example"}]`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/bulk-onboard", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["message"] != "Bulk onboarding initiated successfully" {
		t.Fatalf("message = %v, want success message", parsed["message"])
	}
	if parsed["batch_id"] != "batch-1" {
		t.Fatalf("batch_id = %v, want batch-1", parsed["batch_id"])
	}
	if parsed["total_organizations"] != float64(2) {
		t.Fatalf("total_organizations = %v, want 2", parsed["total_organizations"])
	}
	if parsed["status"] != domain.BatchStatusProcessing.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.BatchStatusProcessing)
	}
}

func TestBulkOnboardIntegration_EmptyPayload(t *testing.T) {
	t.Parallel()

	svc := &stubOnboardingService{
		bulkOnboardFn: func(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error) {
			t.Fatal("service should not be called for an empty payload")
			return nil, nil
		},
	}

	app := newBulkOnboardTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/bulk-onboard", `[]`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["error"] != "No organizations provided" {
		t.Fatalf("error = %v, want No organizations provided", parsed["error"])
	}
}

func TestBulkOnboardIntegration_OverLimit(t *testing.T) {
	t.Parallel()

	app := newBulkOnboardTestApp(t, &stubOnboardingService{})

	items := make([]string, 0, maxOrganizationsPerRequest+1)
	for i := 0; i <= maxOrganizationsPerRequest; i++ {
		items = append(items, fmt.Sprintf(`{"name":"Org %d","domain":"org-%d.example"}`, i, i))
	}
	body := `[` + strings.Join(items, ",") + `]`

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/bulk-onboard", body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	want := fmt.Sprintf("Maximum %d organizations allowed per request", maxOrganizationsPerRequest)
	if parsed["error"] != want {
		t.Fatalf("error = %v, want %q", parsed["error"], want)
	}
}

func TestBulkOnboardIntegration_ValidationDetails(t *testing.T) {
	t.Parallel()

	svc := &stubOnboardingService{
		bulkOnboardFn: func(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error) {
			t.Fatal("service should not be called when validation fails")
			return nil, nil
		},
	}

	app := newBulkOnboardTestApp(t, svc)

	body := `[{"name":"","domain":"acme.example"},{"name":"Globex","domain":"","contact_email":"not-an-email"}]`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/bulk-onboard", body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Error != "Validation failed" {
		t.Fatalf("error = %q, want Validation failed", parsed.Error)
	}
	if parsed.Details["0.name"] != "Organization name is required" {
		t.Fatalf("details[0.name] = %q, want name required", parsed.Details["0.name"])
	}
	if parsed.Details["1.domain"] != "Organization domain is required" {
		t.Fatalf("details[1.domain] = %q, want domain required", parsed.Details["1.domain"])
	}
	if parsed.Details["1.contact_email"] != "Contact email must be a valid email address" {
		t.Fatalf("details[1.contact_email] = %q, want invalid email message", parsed.Details["1.contact_email"])
	}
}

func TestBulkOnboardIntegration_InvalidBody(t *testing.T) {
	t.Parallel()

	app := newBulkOnboardTestApp(t, &stubOnboardingService{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/bulk-onboard", `{not json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestBulkOnboardIntegration_InternalErrorOpaque(t *testing.T) {
	t.Parallel()

	svc := &stubOnboardingService{
		bulkOnboardFn: func(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error) {
			return nil, errors.New("pq: connection refused")
		},
	}

	app := newBulkOnboardTestApp(t, svc)

	body := `[{"name":"Acme","domain":"acme.example"}]`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/bulk-onboard", body)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["error"] != "internal server error" {
		t.Fatalf("error = %v, want opaque internal server error", parsed["error"])
	}
}

func TestBulkOnboardIntegration_GetBatchProgress(t *testing.T) {
	t.Parallel()

	svc := &stubOnboardingService{
		getBatchProgressFn: func(ctx context.Context, batchID string) (*service.BatchProgress, error) {
			if batchID != "batch-42" {
				return nil, domain.ErrNotFound
			}
			return &service.BatchProgress{
				BatchID:                "batch-42",
				Status:                 domain.BatchStatusProcessing,
				TotalOrganizations:     5,
				ProcessedOrganizations: 3,
			}, nil
		},
	}

	app := newBulkOnboardTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-42", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["batchId"] != "batch-42" {
		t.Fatalf("batchId = %v, want batch-42", parsed["batchId"])
	}
	if parsed["totalOrganizations"] != float64(5) {
		t.Fatalf("totalOrganizations = %v, want 5", parsed["totalOrganizations"])
	}
	if parsed["processedOrganizations"] != float64(3) {
		t.Fatalf("processedOrganizations = %v, want 3", parsed["processedOrganizations"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBulkOnboardIntegration_GetOrganization(t *testing.T) {
	t.Parallel()

	reason := "onboarding failed after 3 attempts: webhook returned 500"
	svc := &stubOnboardingService{
		getOrganizationFn: func(ctx context.Context, id string) (*domain.Organization, error) {
			if id != "org-found" {
				return nil, domain.ErrNotFound
			}
			return &domain.Organization{
				ID:           "org-found",
				Name:         "Acme",
				Domain:       "acme.example",
				Status:       domain.StatusFailed,
				AttemptCount: 3,
				FailedReason: &reason,
			}, nil
		},
	}

	app := newBulkOnboardTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/organizations/org-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != domain.StatusFailed.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.StatusFailed)
	}
	if parsed["failedReason"] != reason {
		t.Fatalf("failedReason = %v, want %q", parsed["failedReason"], reason)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/organizations/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop(), false)})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil), stubBroker{})

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop(), false)})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when broker down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop(), false)})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{err: errors.New("rabbitmq down")})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"rabbitmq":"down"`) {
			t.Fatalf("body = %s, want the rabbitmq check marked down", string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop(), false)})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{err: errors.New("rabbitmq down")})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubOnboardingService struct {
	bulkOnboardFn      func(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error)
	getBatchProgressFn func(ctx context.Context, batchID string) (*service.BatchProgress, error)
	getOrganizationFn  func(ctx context.Context, id string) (*domain.Organization, error)
}

func (s *stubOnboardingService) BulkOnboard(ctx context.Context, inputs []service.OrganizationInput) (*service.BulkOnboardResult, error) {
	if s.bulkOnboardFn != nil {
		return s.bulkOnboardFn(ctx, inputs)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOnboardingService) GetBatchProgress(ctx context.Context, batchID string) (*service.BatchProgress, error) {
	if s.getBatchProgressFn != nil {
		return s.getBatchProgressFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubOnboardingService) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	if s.getOrganizationFn != nil {
		return s.getOrganizationFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func newBulkOnboardTestApp(t *testing.T, svc OnboardingService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop(), false),
	})

	if err := RegisterBulkOnboardRoutes(app, svc); err != nil {
		t.Fatalf("RegisterBulkOnboardRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubBroker struct {
	err error
}

func (b stubBroker) Healthy() error { return b.err }

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
