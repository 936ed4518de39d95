package classifier

import "context"

// Label is the binary classification outcome.
type Label int

const (
	Benign    Label = 0
	Malignant Label = 1
)

func (l Label) String() string {
	if l == Malignant {
		return "malignant"
	}
	return "benign"
}

// Result contains the raw outcome returned by the classifier service.
type Result struct {
	Score        float32
	ModelVersion string
}

// Client exposes the subset of the scoring service used by the diagnosis flow.
type Client interface {
	Classify(ctx context.Context, requestID string, tensor []float32) (*Result, error)
}

// Prediction is the thresholded classification consumed by the renderer.
type Prediction struct {
	Label      Label
	Confidence float64
}

// FromScore thresholds the malignancy probability at 0.5. The confidence is
// the positive-class probability times 100 on both branches; the benign
// branch therefore reports the malignancy probability, which matches the
// deployed product contract.
func FromScore(score float32) Prediction {
	label := Benign
	if score > 0.5 {
		label = Malignant
	}
	return Prediction{
		Label:      label,
		Confidence: float64(score) * 100,
	}
}
