package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/mammoscan/internal/auth"
	"github.com/example/mammoscan/internal/classifier"
	"github.com/example/mammoscan/internal/repository"
	"github.com/example/mammoscan/internal/usecase"
	"github.com/example/mammoscan/internal/whatsapp"
)

type stubAuthService struct {
	registerErr error
	verifyErr   error
	loginErr    error
	loginUser   *repository.User
	loginToken  string
}

func (s *stubAuthService) Register(ctx context.Context, username, password, email string) error {
	return s.registerErr
}

func (s *stubAuthService) VerifyOTP(ctx context.Context, email, code string) error {
	return s.verifyErr
}

func (s *stubAuthService) Login(ctx context.Context, username, password string) (*repository.User, string, error) {
	if s.loginErr != nil {
		return nil, "", s.loginErr
	}
	return s.loginUser, s.loginToken, nil
}

type stubDiagnosisService struct {
	outcome     *usecase.DiagnosisOutcome
	diagnoseErr error
	results     map[string]*repository.Diagnosis
	history     []*repository.Diagnosis
	historyUser string
	summary     *usecase.MetricsSummary
}

func (s *stubDiagnosisService) Diagnose(ctx context.Context, username, filename string, imageBytes []byte) (*usecase.DiagnosisOutcome, error) {
	if s.diagnoseErr != nil {
		return nil, s.diagnoseErr
	}
	return s.outcome, nil
}

func (s *stubDiagnosisService) GetResult(ctx context.Context, requestID string) (*repository.Diagnosis, error) {
	if record, ok := s.results[requestID]; ok {
		return record, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubDiagnosisService) History(ctx context.Context, username string, limit int) ([]*repository.Diagnosis, error) {
	s.historyUser = username
	return s.history, nil
}

func (s *stubDiagnosisService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return s.summary, nil
}

type stubReportMailer struct {
	sent chan string
	err  error
}

func (s *stubReportMailer) SendReport(to, reportPath string) error {
	if s.sent != nil {
		s.sent <- to + " " + reportPath
	}
	return s.err
}

type stubReportMessenger struct {
	result    whatsapp.DeliveryResult
	lastPhone string
	lastRef   string
}

func (s *stubReportMessenger) SendReport(phone, reportPublicPath string) whatsapp.DeliveryResult {
	s.lastPhone = phone
	s.lastRef = reportPublicPath
	return s.result
}

type fixture struct {
	router     *gin.Engine
	auth       *stubAuthService
	diagnosis  *stubDiagnosisService
	mailer     *stubReportMailer
	messenger  *stubReportMessenger
	tokens     *auth.JWTManager
	reportsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		auth:       &stubAuthService{},
		diagnosis:  &stubDiagnosisService{},
		mailer:     &stubReportMailer{sent: make(chan string, 1)},
		messenger:  &stubReportMessenger{},
		tokens:     auth.NewJWTManager("test-secret", "mammoscan", time.Hour),
		reportsDir: t.TempDir(),
	}

	f.router = gin.New()
	RegisterRoutes(f.router, Deps{
		Auth:           f.auth,
		Diagnosis:      f.diagnosis,
		Mailer:         f.mailer,
		Messenger:      f.messenger,
		ReportsDir:     f.reportsDir,
		AuthMiddleware: auth.JWTMiddleware("test-secret", "mammoscan"),
		Logger:         zap.NewNop(),
	})
	return f
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	w := postJSON(t, f.router, "/auth/register", gin.H{"username": "alice"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.auth.registerErr = usecase.ErrEmailTaken

	w := postJSON(t, f.router, "/auth/register", gin.H{
		"username": "alice", "password": "pw", "email": "alice@example.com",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "email already registered" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestVerifyOTPErrors(t *testing.T) {
	f := newFixture(t)

	f.auth.verifyErr = usecase.ErrNoPendingRegistration
	w := postJSON(t, f.router, "/auth/verify-otp", gin.H{"email": "a@b.c", "otp": "123456"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing pending entry, got %d", w.Code)
	}

	f.auth.verifyErr = usecase.ErrInvalidOTP
	w = postJSON(t, f.router, "/auth/verify-otp", gin.H{"email": "a@b.c", "otp": "000000"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid otp, got %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "invalid otp" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	f.auth.loginErr = usecase.ErrInvalidCredentials

	w := postJSON(t, f.router, "/auth/login", gin.H{"username": "alice", "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.auth.loginUser = &repository.User{Username: "alice", Email: "alice@example.com"}
	f.auth.loginToken = "token-123"

	w := postJSON(t, f.router, "/auth/login", gin.H{"username": "alice", "password": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["token"] != "token-123" || body["username"] != "alice" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func multipartUpload(t *testing.T, username string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if username != "" {
		if err := mw.WriteField("username", username); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestPredictSuccess(t *testing.T) {
	f := newFixture(t)
	f.diagnosis.outcome = &usecase.DiagnosisOutcome{
		RequestID: "req-1",
		Prediction: classifier.Prediction{
			Label:      classifier.Malignant,
			Confidence: 77,
		},
		ReportPublicPath:  "/reports/scan_report.pdf",
		PreviewPublicPath: "/reports/scan_report.png",
	}

	body, contentType := multipartUpload(t, "alice", "scan.png", []byte("fake-image"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["prediction"] != float64(1) {
		t.Fatalf("unexpected prediction: %v", resp["prediction"])
	}
	if resp["confidence"] != "77.00%" {
		t.Fatalf("unexpected confidence: %v", resp["confidence"])
	}
	if resp["report"] != "/reports/scan_report.pdf" || resp["report_image"] != "/reports/scan_report.png" {
		t.Fatalf("unexpected paths: %s", w.Body.String())
	}
}

func TestPredictRequiresUsernameAndFile(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartUpload(t, "", "scan.png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without username, got %d", w.Code)
	}

	body, contentType = multipartUpload(t, "alice", "", nil)
	req = httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", w.Code)
	}
}

func TestGetResultEndpoint(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	f.diagnosis.results = map[string]*repository.Diagnosis{
		"req-1": {
			RequestID:   "req-1",
			Username:    "alice",
			Label:       1,
			Confidence:  77,
			ReportPath:  "/data/reports/scan_report.pdf",
			PreviewPath: "/data/reports/scan_report.png",
			CreatedAt:   created,
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/result/req-1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["request_id"] != "req-1" || body["prediction"] != float64(1) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if body["confidence"] != "77.00%" {
		t.Fatalf("unexpected confidence: %v", body["confidence"])
	}
	if body["report"] != "/reports/scan_report.pdf" || body["report_image"] != "/reports/scan_report.png" {
		t.Fatalf("unexpected paths: %s", w.Body.String())
	}
}

func TestGetResultUnknownRequest(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/result/nope", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["error"] != "result not found" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestDownloadReportMissingIsSoftError(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/download-report?report=/reports/nope.pdf", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "Report not found" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestDownloadReportServesFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scan_report.pdf"), []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}

	router := gin.New()
	RegisterRoutes(router, Deps{
		Auth:           &stubAuthService{},
		Diagnosis:      &stubDiagnosisService{},
		Mailer:         &stubReportMailer{},
		Messenger:      &stubReportMessenger{},
		ReportsDir:     dir,
		AuthMiddleware: auth.JWTMiddleware("test-secret", "mammoscan"),
		Logger:         zap.NewNop(),
	})

	req := httptest.NewRequest(http.MethodGet, "/download-report?report=/reports/scan_report.pdf", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "scan_report.pdf") {
		t.Fatalf("expected attachment disposition, got %q", w.Header().Get("Content-Disposition"))
	}
	if w.Body.String() != "%PDF-1.4 test" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestDownloadReportIgnoresTraversal(t *testing.T) {
	f := newFixture(t)
	secret := filepath.Join(filepath.Dir(f.reportsDir), "secret.txt")
	if err := os.WriteFile(secret, []byte("outside the reports dir"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	// Only the base name of the reference is honored, so a traversal path
	// resolves to a (missing) file inside the reports dir.
	req := httptest.NewRequest(http.MethodGet, "/download-report?report=../secret.txt", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected soft-error 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "outside the reports dir") {
		t.Fatal("traversal reference escaped the reports dir")
	}
	if decodeBody(t, w)["error"] != "Report not found" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/download-report?report=..", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bare traversal reference, got %d", w.Code)
	}
}

func TestSendEmailResolvesInsideReportsDir(t *testing.T) {
	f := newFixture(t)

	w := postJSON(t, f.router, "/send-email", gin.H{
		"email": "alice@example.com", "report": "../../etc/passwd",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case sent := <-f.mailer.sent:
		delivered := strings.TrimPrefix(sent, "alice@example.com ")
		if delivered != filepath.Join(f.reportsDir, "passwd") {
			t.Fatalf("traversal reference resolved outside the reports dir: %q", delivered)
		}
	case <-time.After(time.Second):
		t.Fatal("background delivery never happened")
	}
}

func TestSendEmailAcknowledgesBeforeDelivery(t *testing.T) {
	f := newFixture(t)

	w := postJSON(t, f.router, "/send-email", gin.H{
		"email": "alice@example.com", "report": "/reports/scan_report.pdf",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decodeBody(t, w)["message"] != "Report sent to alice@example.com" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	select {
	case sent := <-f.mailer.sent:
		if !strings.HasPrefix(sent, "alice@example.com ") || !strings.HasSuffix(sent, "scan_report.pdf") {
			t.Fatalf("unexpected delivery: %q", sent)
		}
	case <-time.After(time.Second):
		t.Fatal("background delivery never happened")
	}
}

func TestSendEmailFailureStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = os.ErrDeadlineExceeded

	w := postJSON(t, f.router, "/send-email", gin.H{
		"email": "alice@example.com", "report": "/reports/scan_report.pdf",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 regardless of delivery outcome, got %d", w.Code)
	}
	<-f.mailer.sent
}

func TestSendWhatsAppPassesResultThrough(t *testing.T) {
	f := newFixture(t)
	f.messenger.result = whatsapp.DeliveryResult{
		Status:  "success",
		Message: "WhatsApp report sent",
		SID:     "SM123",
	}

	w := postJSON(t, f.router, "/send-whatsapp", gin.H{
		"phone": "+15551234567", "report": "/reports/scan_report.pdf",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "success" || body["sid"] != "SM123" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if f.messenger.lastPhone != "+15551234567" {
		t.Fatalf("unexpected phone: %s", f.messenger.lastPhone)
	}
}

func TestHistoryRequiresToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestHistoryWithToken(t *testing.T) {
	f := newFixture(t)
	f.diagnosis.history = []*repository.Diagnosis{
		{RequestID: "req-1", Label: 1, Confidence: 77, ReportPath: "/data/reports/scan_report.pdf", PreviewPath: "/data/reports/scan_report.png"},
	}
	token, err := f.tokens.GenerateToken("alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/history?limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["username"] != "alice" {
		t.Fatalf("unexpected username: %v", body["username"])
	}
	if f.diagnosis.historyUser != "alice" {
		t.Fatalf("history queried for %q", f.diagnosis.historyUser)
	}
	items, ok := body["diagnoses"].([]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected diagnoses payload: %s", w.Body.String())
	}
	first := items[0].(map[string]interface{})
	if first["report"] != "/reports/scan_report.pdf" {
		t.Fatalf("unexpected report path: %v", first["report"])
	}
}

func TestMetricsWithToken(t *testing.T) {
	f := newFixture(t)
	f.diagnosis.summary = &usecase.MetricsSummary{
		TotalRequests:     4,
		MalignantRequests: 1,
		MalignancyRate:    0.25,
		AverageConfidence: 63.5,
	}
	token, err := f.tokens.GenerateToken("alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["total_requests"] != float64(4) || body["malignancy_rate"] != 0.25 {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
