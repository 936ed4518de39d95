// Package report renders the one-page diagnostic document and its preview
// image from a single prediction.
package report

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/example/mammoscan/internal/classifier"
	"github.com/example/mammoscan/internal/preprocess"
)

// Page geometry in points (US letter), mirroring the report template.
const (
	pageWidth    = 612.0
	pageHeight   = 792.0
	margin       = 40.0
	contentWidth = pageWidth - 2*margin
	headerHeight = 85.0
	imageSize    = 170.0
)

type rgb struct{ r, g, b int }

var (
	colorBlack     = rgb{0x00, 0x00, 0x00}
	colorSuccess   = rgb{0x38, 0x8E, 0x3C}
	colorWarning   = rgb{0xD3, 0x2F, 0x2F}
	colorLightGray = rgb{0xF5, 0xF5, 0xF5}
)

const (
	titleText       = "BREAST CANCER DIAGNOSTIC REPORT"
	subtitleText    = "AI-Powered Medical Imaging Analysis"
	benignResult    = "BENIGN - NO MALIGNANCY DETECTED"
	malignantResult = "MALIGNANT - INVASIVE DUCTAL CARCINOMA DETECTED"
	reportIDPrefix  = "BCD-"
)

var disclaimerLines = [2]string{
	"This AI-assisted report should be reviewed by a qualified healthcare professional.",
	"Confidential medical document - For authorized use only",
}

var findingsByLabel = map[classifier.Label][]string{
	classifier.Benign: {
		"• Tissue architecture appears within normal limits",
		"• No evidence of abnormal cell proliferation",
		"• Regular cellular patterns observed",
		"• No characteristics suggestive of malignancy",
	},
	classifier.Malignant: {
		"• Irregular tissue architecture identified",
		"• Abnormal cell clusters consistent with IDC",
		"• Disorganized cellular patterns observed",
		"• Features suggestive of invasive ductal carcinoma",
	},
}

var recommendationsByLabel = map[classifier.Label][]string{
	classifier.Benign: {
		"• Continue with routine screening as recommended",
		"• No additional imaging required at this time",
		"• Follow standard screening guidelines",
	},
	classifier.Malignant: {
		"• Consultation with oncology specialist recommended",
		"• Biopsy for definitive diagnosis advised",
		"• Further diagnostic imaging may be necessary",
	},
}

// resultLine returns the diagnosis text and its color, the only colored
// element in the document.
func resultLine(label classifier.Label) (string, rgb) {
	if label == classifier.Malignant {
		return malignantResult, colorWarning
	}
	return benignResult, colorSuccess
}

// Request carries everything the renderer needs for one report.
type Request struct {
	PatientName string
	Prediction  classifier.Prediction
	SourceImage image.Image
	ReportPath  string
}

// Artifact locates the rendered outputs. PreviewPath is empty when the
// document was written but the preview could not be produced.
type Artifact struct {
	ReportPath  string
	PreviewPath string
}

// Renderer produces diagnostic report artifacts. The clock is injectable so
// renders are reproducible under test.
type Renderer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewRenderer constructs a renderer using the wall clock.
func NewRenderer(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger.Named("report_renderer"), now: time.Now}
}

// NewRendererWithClock constructs a renderer with a fixed clock source.
func NewRendererWithClock(logger *zap.Logger, now func() time.Time) *Renderer {
	return &Renderer{logger: logger.Named("report_renderer"), now: now}
}

// Render writes the diagnostic PDF and its PNG preview. Both outputs are
// derived from the same request in this single call so they always depict
// the same prediction and source image. A preview failure after the PDF is
// on disk is logged and reported through an empty PreviewPath, not an error.
func (r *Renderer) Render(req Request) (*Artifact, error) {
	dir := filepath.Dir(req.ReportPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	now := r.now()
	gray := preprocess.Grayscale(req.SourceImage)

	grayPath, err := writeGrayscaleTemp(dir, gray)
	if err != nil {
		return nil, err
	}
	defer os.Remove(grayPath)

	if err := r.writePDF(req, now, grayPath); err != nil {
		return nil, err
	}

	artifact := &Artifact{ReportPath: req.ReportPath}

	previewPath := strings.TrimSuffix(req.ReportPath, filepath.Ext(req.ReportPath)) + ".png"
	if err := r.writePreview(req, gray, now, previewPath); err != nil {
		r.logger.Warn("preview rendering failed, report kept without preview",
			zap.String("report", req.ReportPath), zap.Error(err))
		return artifact, nil
	}
	artifact.PreviewPath = previewPath
	return artifact, nil
}

func writeGrayscaleTemp(dir string, gray *image.Gray) (string, error) {
	f, err := os.CreateTemp(dir, "grayscale_*.png")
	if err != nil {
		return "", fmt.Errorf("create grayscale temp: %w", err)
	}
	if err := png.Encode(f, gray); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode grayscale image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close grayscale temp: %w", err)
	}
	return f.Name(), nil
}

func (r *Renderer) writePDF(req Request, now time.Time, grayPath string) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	// Uncompressed streams keep the output byte-stable and inspectable.
	pdf.SetCompression(false)
	pdf.SetCreationDate(now)
	pdf.SetModificationDate(now)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	// Core fonts are cp1252; the bullet glyphs need translating.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// Header band with the two decorative glyphs.
	pdf.SetFillColor(colorLightGray.r, colorLightGray.g, colorLightGray.b)
	pdf.Rect(0, 0, pageWidth, headerHeight, "F")

	stroke(pdf, colorBlack)
	pdf.SetLineWidth(1)
	drawHelix(pdf, margin+30, 40)
	drawCross(pdf, pageWidth-margin-30, 40, 12)

	textColor(pdf, colorBlack)
	pdf.SetFont("Helvetica", "B", 20)
	centerText(pdf, titleText, 35)
	pdf.SetFont("Helvetica", "", 10)
	centerText(pdf, subtitleText, 58)

	pdf.SetLineWidth(0.5)
	pdf.Line(margin, headerHeight, pageWidth-margin, headerHeight)

	// Patient information box.
	pdf.Rect(margin, 105, contentWidth, 55, "D")
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Text(margin+15, 125, "PATIENT INFORMATION")
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(margin+15, 140, "Patient: "+req.PatientName)
	pdf.Text(margin+contentWidth/2, 140, "Date: "+now.Format("2006-01-02"))
	pdf.Text(margin+15, 155, "Time: "+now.Format("15:04"))
	pdf.Text(margin+contentWidth/2, 155, "Report ID: "+ReportID(now))

	// Diagnosis, the only colored text in the document.
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(margin, 180, "DIAGNOSIS")

	result, color := resultLine(req.Prediction.Label)
	textColor(pdf, color)
	pdf.SetFont("Helvetica", "B", 16)
	centerText(pdf, result, 208)

	textColor(pdf, colorBlack)
	pdf.SetFont("Helvetica", "", 12)
	centerText(pdf, fmt.Sprintf("Confidence: %.1f%%", req.Prediction.Confidence), 232)

	// Source image, grayscale, centered.
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(margin, 255, "ANALYZED IMAGE")
	pdf.ImageOptions(grayPath, (pageWidth-imageSize)/2, 270, imageSize, imageSize,
		false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	// Findings and recommendations, selected entirely by label.
	pdf.Text(margin, 480, "FINDINGS")
	pdf.SetFont("Helvetica", "", 10)
	for i, finding := range findingsByLabel[req.Prediction.Label] {
		pdf.Text(margin+15, 502+float64(i)*18, tr(finding))
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(margin, 585, "RECOMMENDATIONS")
	pdf.SetFont("Helvetica", "", 10)
	for i, rec := range recommendationsByLabel[req.Prediction.Label] {
		pdf.Text(margin+15, 607+float64(i)*18, tr(rec))
	}

	// Footer.
	pdf.SetLineWidth(0.5)
	pdf.Line(margin, 719, pageWidth-margin, 719)
	pdf.SetFont("Helvetica", "I", 8)
	centerText(pdf, disclaimerLines[0], 734)
	centerText(pdf, disclaimerLines[1], 749)

	if err := pdf.OutputFileAndClose(req.ReportPath); err != nil {
		return fmt.Errorf("write report pdf: %w", err)
	}
	return nil
}

// ReportID builds the report identifier for a given timestamp.
func ReportID(now time.Time) string {
	return reportIDPrefix + now.Format("200601021504")
}

func drawHelix(pdf *fpdf.Fpdf, x, y float64) {
	const radius = 4.0
	for i := 0; i < 5; i++ {
		offset := float64(i)*8 - 16
		pdf.Circle(x-radius, y-offset, radius, "D")
		pdf.Circle(x+radius, y+offset, radius, "D")
		if i < 4 {
			pdf.Line(x-radius, y-offset, x+radius, y+offset-8)
		}
	}
}

func drawCross(pdf *fpdf.Fpdf, x, y, size float64) {
	pdf.Line(x, y-size, x, y+size)
	pdf.Line(x-size, y, x+size, y)
}

func centerText(pdf *fpdf.Fpdf, s string, y float64) {
	pdf.Text((pageWidth-pdf.GetStringWidth(s))/2, y, s)
}

func textColor(pdf *fpdf.Fpdf, c rgb) {
	pdf.SetTextColor(c.r, c.g, c.b)
}

func stroke(pdf *fpdf.Fpdf, c rgb) {
	pdf.SetDrawColor(c.r, c.g, c.b)
}
