package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/mammoscan/internal/auth"
	"github.com/example/mammoscan/internal/repository"
	"github.com/example/mammoscan/internal/usecase"
	"github.com/example/mammoscan/internal/whatsapp"
)

// MaxUploadSize bounds multipart uploads.
const MaxUploadSize = 10 << 20

// AuthService is the slice of the auth use case the handlers consume.
type AuthService interface {
	Register(ctx context.Context, username, password, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	Login(ctx context.Context, username, password string) (*repository.User, string, error)
}

// DiagnosisService is the slice of the diagnosis use case the handlers consume.
type DiagnosisService interface {
	Diagnose(ctx context.Context, username, filename string, imageBytes []byte) (*usecase.DiagnosisOutcome, error)
	GetResult(ctx context.Context, requestID string) (*repository.Diagnosis, error)
	History(ctx context.Context, username string, limit int) ([]*repository.Diagnosis, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// ReportMailer delivers a rendered report by email.
type ReportMailer interface {
	SendReport(to, reportPath string) error
}

// ReportMessenger delivers a rendered report over WhatsApp.
type ReportMessenger interface {
	SendReport(phone, reportPublicPath string) whatsapp.DeliveryResult
}

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Auth           AuthService
	Diagnosis      DiagnosisService
	Mailer         ReportMailer
	Messenger      ReportMessenger
	ReportsDir     string
	AuthMiddleware gin.HandlerFunc
	Logger         *zap.Logger
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sendEmailRequest struct {
	Email  string `json:"email" binding:"required"`
	Report string `json:"report" binding:"required"`
}

type sendWhatsAppRequest struct {
	Phone  string `json:"phone" binding:"required"`
	Report string `json:"report" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	authGroup.POST("/register", func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username, password and email are required"})
			return
		}
		if err := deps.Auth.Register(c.Request.Context(), req.Username, req.Password, req.Email); err != nil {
			if errors.Is(err, usecase.ErrEmailTaken) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "OTP sent to email"})
	})

	authGroup.POST("/verify-otp", func(c *gin.Context) {
		var req verifyOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and otp are required"})
			return
		}
		if err := deps.Auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP); err != nil {
			switch {
			case errors.Is(err, usecase.ErrNoPendingRegistration):
				c.JSON(http.StatusBadRequest, gin.H{"error": "no pending registration for this email"})
			case errors.Is(err, usecase.ErrInvalidOTP):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otp"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Account verified successfully"})
	})

	authGroup.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		user, token, err := deps.Auth.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":  "Login successful",
			"username": user.Username,
			"email":    user.Email,
			"token":    token,
		})
	})

	router.POST("/predict", func(c *gin.Context) {
		username := c.PostForm("username")
		if username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		outcome, err := deps.Diagnosis.Diagnose(c.Request.Context(), username, file.Filename, data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"prediction":   int(outcome.Prediction.Label),
			"confidence":   fmt.Sprintf("%.2f%%", outcome.Prediction.Confidence),
			"report":       outcome.ReportPublicPath,
			"report_image": outcome.PreviewPublicPath,
		})
	})

	router.GET("/result/:request_id", func(c *gin.Context) {
		requestID := c.Param("request_id")
		record, err := deps.Diagnosis.GetResult(c.Request.Context(), requestID)
		if err != nil {
			if repository.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":   record.RequestID,
			"prediction":   record.Label,
			"confidence":   fmt.Sprintf("%.2f%%", record.Confidence),
			"report":       usecase.ReportPublicPrefix + "/" + filepath.Base(record.ReportPath),
			"report_image": previewPublic(record.PreviewPath),
			"created_at":   record.CreatedAt,
		})
	})

	router.GET("/download-report", func(c *gin.Context) {
		ref := c.Query("report")
		if ref == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "report is required"})
			return
		}
		path, err := resolveReportPath(deps.ReportsDir, ref)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report path"})
			return
		}
		if _, err := os.Stat(path); err != nil {
			// Missing reports are a soft error payload, not an HTTP failure.
			c.JSON(http.StatusOK, gin.H{"error": "Report not found"})
			return
		}
		c.FileAttachment(path, filepath.Base(path))
	})

	router.POST("/send-email", func(c *gin.Context) {
		var req sendEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and report are required"})
			return
		}
		path, err := resolveReportPath(deps.ReportsDir, req.Report)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report path"})
			return
		}

		// Fire and forget: the client is acknowledged before delivery is
		// attempted and never learns the outcome.
		go func(to, reportPath string) {
			if err := deps.Mailer.SendReport(to, reportPath); err != nil {
				logger.Error("background email delivery failed",
					zap.String("to", to), zap.String("report", reportPath), zap.Error(err))
			}
		}(req.Email, path)

		c.JSON(http.StatusOK, gin.H{"message": "Report sent to " + req.Email})
	})

	router.POST("/send-whatsapp", func(c *gin.Context) {
		var req sendWhatsAppRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "phone and report are required"})
			return
		}
		result := deps.Messenger.SendReport(req.Phone, req.Report)
		c.JSON(http.StatusOK, result)
	})

	protected := router.Group("/", deps.AuthMiddleware)
	protected.GET("/history", func(c *gin.Context) {
		username, ok := auth.GetUsername(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		records, err := deps.Diagnosis.History(c.Request.Context(), username, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]gin.H, 0, len(records))
		for _, r := range records {
			items = append(items, gin.H{
				"request_id":   r.RequestID,
				"prediction":   r.Label,
				"confidence":   r.Confidence,
				"report":       usecase.ReportPublicPrefix + "/" + filepath.Base(r.ReportPath),
				"report_image": previewPublic(r.PreviewPath),
				"created_at":   r.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "diagnoses": items})
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := deps.Diagnosis.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func previewPublic(fsPath string) string {
	if fsPath == "" {
		return ""
	}
	return usecase.ReportPublicPrefix + "/" + filepath.Base(fsPath)
}

// resolveReportPath maps a public report reference onto the reports
// directory. Only the base name is honored, so references cannot escape the
// directory.
func resolveReportPath(reportsDir, ref string) (string, error) {
	name := filepath.Base(ref)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", errors.New("invalid report reference")
	}
	return filepath.Join(reportsDir, name), nil
}
