package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mammoscan/internal/classifier"
	"github.com/example/mammoscan/internal/logging"
	"github.com/example/mammoscan/internal/preprocess"
	"github.com/example/mammoscan/internal/report"
	"github.com/example/mammoscan/internal/repository"
)

// ReportPublicPrefix is the URL prefix the reports directory is served under.
const ReportPublicPrefix = "/reports"

// DiagnosisRepository defines the persistence operations needed by the
// diagnosis flow.
type DiagnosisRepository interface {
	Save(ctx context.Context, d *repository.Diagnosis) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.Diagnosis, error)
	ListByUsername(ctx context.Context, username string, limit int) ([]*repository.Diagnosis, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ReportRenderer produces the report artifacts for one prediction.
type ReportRenderer interface {
	Render(req report.Request) (*report.Artifact, error)
}

// DiagnosisUseCase encapsulates the upload -> score -> render pipeline.
type DiagnosisUseCase struct {
	repo           DiagnosisRepository
	cache          Cache
	classifier     classifier.Client
	renderer       ReportRenderer
	logger         *zap.Logger
	uploadsDir     string
	reportsDir     string
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDiagnosisUseCase constructs a new use case instance.
func NewDiagnosisUseCase(repo DiagnosisRepository, cache Cache, client classifier.Client, renderer ReportRenderer, uploadsDir, reportsDir string, logger *zap.Logger) *DiagnosisUseCase {
	return &DiagnosisUseCase{
		repo:           repo,
		cache:          cache,
		classifier:     client,
		renderer:       renderer,
		logger:         logger.Named("diagnosis_usecase"),
		uploadsDir:     uploadsDir,
		reportsDir:     reportsDir,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// DiagnosisOutcome is the result handed back to the HTTP layer. Public paths
// are relative URLs under the static reports mount.
type DiagnosisOutcome struct {
	RequestID         string
	Prediction        classifier.Prediction
	ReportPublicPath  string
	PreviewPublicPath string
}

type cachedDiagnosis struct {
	RequestID   string    `json:"request_id"`
	Username    string    `json:"username"`
	Label       int       `json:"label"`
	Confidence  float64   `json:"confidence"`
	ReportPath  string    `json:"report_path"`
	PreviewPath string    `json:"preview_path"`
	Hash        string    `json:"sha1_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Diagnose scores one uploaded image and renders its report. The document
// and preview are produced by a single renderer call so they always carry
// the same prediction. Decode failures propagate to the caller unclassified.
func (uc *DiagnosisUseCase) Diagnose(ctx context.Context, username, filename string, imageBytes []byte) (*DiagnosisOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.diagnose", requestID)

	cacheKey := fmt.Sprintf("diagnosis:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	img, err := preprocess.Decode(imageBytes)
	if err != nil {
		return nil, err
	}

	result, err := uc.classifier.Classify(ctx, requestID, preprocess.Tensor(img))
	if err != nil {
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	pred := classifier.FromScore(result.Score)

	if err := uc.saveUpload(filename, imageBytes); err != nil {
		opLogger.Error("failed to save upload", zap.Error(err))
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	artifact, err := uc.renderer.Render(report.Request{
		PatientName: username,
		Prediction:  pred,
		SourceImage: img,
		ReportPath:  filepath.Join(uc.reportsDir, base+"_report.pdf"),
	})
	if err != nil {
		wrapped := logging.NewOperationError("usecase.render_report", requestID, err)
		opLogger.Error("report rendering failed", zap.Error(wrapped))
		return nil, wrapped
	}

	hash := sha1.Sum(imageBytes)
	record := &repository.Diagnosis{
		RequestID:    requestID,
		Username:     username,
		Label:        int(pred.Label),
		Confidence:   pred.Confidence,
		ReportPath:   artifact.ReportPath,
		PreviewPath:  artifact.PreviewPath,
		SHA1Hash:     hex.EncodeToString(hash[:]),
		ModelVersion: result.ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.repo.Save(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_diagnosis", requestID, err)
		opLogger.Error("failed to persist diagnosis", zap.Error(wrapped))
		return nil, wrapped
	}

	cached := cachedDiagnosis{
		RequestID:   record.RequestID,
		Username:    record.Username,
		Label:       record.Label,
		Confidence:  record.Confidence,
		ReportPath:  record.ReportPath,
		PreviewPath: record.PreviewPath,
		Hash:        record.SHA1Hash,
		CreatedAt:   record.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize diagnosis", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache diagnosis", zap.Error(err))
		return nil, err
	}

	return &DiagnosisOutcome{
		RequestID:         requestID,
		Prediction:        pred,
		ReportPublicPath:  publicPath(artifact.ReportPath),
		PreviewPublicPath: publicPath(artifact.PreviewPath),
	}, nil
}

// GetResult retrieves a cached diagnosis or falls back to persistence.
func (uc *DiagnosisUseCase) GetResult(ctx context.Context, requestID string) (*repository.Diagnosis, error) {
	cacheKey := fmt.Sprintf("diagnosis:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedDiagnosis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.RequestID != "" {
			return &repository.Diagnosis{
				RequestID:   payload.RequestID,
				Username:    payload.Username,
				Label:       payload.Label,
				Confidence:  payload.Confidence,
				ReportPath:  payload.ReportPath,
				PreviewPath: payload.PreviewPath,
				SHA1Hash:    payload.Hash,
				CreatedAt:   payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

// History lists the most recent diagnoses for one user.
func (uc *DiagnosisUseCase) History(ctx context.Context, username string, limit int) ([]*repository.Diagnosis, error) {
	if limit <= 0 {
		limit = 20
	}
	return uc.repo.ListByUsername(ctx, username, limit)
}

func (uc *DiagnosisUseCase) saveUpload(filename string, imageBytes []byte) error {
	if err := os.MkdirAll(uc.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	dst := filepath.Join(uc.uploadsDir, filepath.Base(filename))
	if err := os.WriteFile(dst, imageBytes, 0o644); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

func publicPath(fsPath string) string {
	if fsPath == "" {
		return ""
	}
	return ReportPublicPrefix + "/" + filepath.Base(fsPath)
}

func (uc *DiagnosisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// A key miss is an expected outcome, not a failure worth alerting on.
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *DiagnosisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
