package report

import (
	"fmt"
	"image"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"
)

// writePreview draws the report layout as a standalone PNG at page
// resolution. It works from the same request and clock reading as the PDF,
// so both artifacts always depict the same prediction and image.
func (r *Renderer) writePreview(req Request, gray *image.Gray, now time.Time, path string) error {
	dc := gg.NewContext(int(pageWidth), int(pageHeight))
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetRGB255(255, 255, 255)
	dc.Clear()

	// Header band.
	setRGB(dc, colorLightGray)
	dc.DrawRectangle(0, 0, pageWidth, headerHeight)
	dc.Fill()

	setRGB(dc, colorBlack)
	dc.SetLineWidth(1)
	previewHelix(dc, margin+30, 40)
	previewCross(dc, pageWidth-margin-30, 40, 12)

	dc.DrawStringAnchored(titleText, pageWidth/2, 35, 0.5, 0)
	dc.DrawStringAnchored(subtitleText, pageWidth/2, 58, 0.5, 0)
	dc.DrawLine(margin, headerHeight, pageWidth-margin, headerHeight)
	dc.Stroke()

	// Patient information box.
	dc.DrawRectangle(margin, 105, contentWidth, 55)
	dc.Stroke()
	dc.DrawString("PATIENT INFORMATION", margin+15, 125)
	dc.DrawString("Patient: "+req.PatientName, margin+15, 140)
	dc.DrawString("Date: "+now.Format("2006-01-02"), margin+contentWidth/2, 140)
	dc.DrawString("Time: "+now.Format("15:04"), margin+15, 155)
	dc.DrawString("Report ID: "+ReportID(now), margin+contentWidth/2, 155)

	// Diagnosis.
	dc.DrawString("DIAGNOSIS", margin, 180)
	result, color := resultLine(req.Prediction.Label)
	setRGB(dc, color)
	dc.DrawStringAnchored(result, pageWidth/2, 208, 0.5, 0)
	setRGB(dc, colorBlack)
	dc.DrawStringAnchored(fmt.Sprintf("Confidence: %.1f%%", req.Prediction.Confidence), pageWidth/2, 232, 0.5, 0)

	// Source image.
	dc.DrawString("ANALYZED IMAGE", margin, 255)
	scaled := image.NewRGBA(image.Rect(0, 0, int(imageSize), int(imageSize)))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	dc.DrawImage(scaled, int((pageWidth-imageSize)/2), 270)

	// Findings and recommendations.
	dc.DrawString("FINDINGS", margin, 480)
	for i, finding := range findingsByLabel[req.Prediction.Label] {
		dc.DrawString(finding, margin+15, 502+float64(i)*18)
	}
	dc.DrawString("RECOMMENDATIONS", margin, 585)
	for i, rec := range recommendationsByLabel[req.Prediction.Label] {
		dc.DrawString(rec, margin+15, 607+float64(i)*18)
	}

	// Footer.
	dc.DrawLine(margin, 719, pageWidth-margin, 719)
	dc.Stroke()
	dc.DrawStringAnchored(disclaimerLines[0], pageWidth/2, 734, 0.5, 0)
	dc.DrawStringAnchored(disclaimerLines[1], pageWidth/2, 749, 0.5, 0)

	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("write preview png: %w", err)
	}
	return nil
}

func previewHelix(dc *gg.Context, x, y float64) {
	const radius = 4.0
	for i := 0; i < 5; i++ {
		offset := float64(i)*8 - 16
		dc.DrawCircle(x-radius, y-offset, radius)
		dc.DrawCircle(x+radius, y+offset, radius)
		dc.Stroke()
		if i < 4 {
			dc.DrawLine(x-radius, y-offset, x+radius, y+offset-8)
			dc.Stroke()
		}
	}
}

func previewCross(dc *gg.Context, x, y, size float64) {
	dc.DrawLine(x, y-size, x, y+size)
	dc.DrawLine(x-size, y, x+size, y)
	dc.Stroke()
}

func setRGB(dc *gg.Context, c rgb) {
	dc.SetRGB255(c.r, c.g, c.b)
}
