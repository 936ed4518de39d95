// Package whatsapp submits report links through the Twilio WhatsApp channel.
package whatsapp

import (
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/example/mammoscan/internal/config"
)

// DeliveryResult is the structured outcome returned to the caller. Provider
// failures land here as Status "error" instead of propagating.
type DeliveryResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	SID     string `json:"sid,omitempty"`
}

// messageCreator is the slice of the Twilio API the dispatcher uses.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Dispatcher sends a report's public URL as WhatsApp media.
type Dispatcher struct {
	api           messageCreator
	from          string
	publicBaseURL string
	logger        *zap.Logger
}

// NewDispatcher constructs a dispatcher backed by the Twilio REST client.
func NewDispatcher(cfg config.TwilioConfig, publicBaseURL string, logger *zap.Logger) *Dispatcher {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Dispatcher{
		api:           client.Api,
		from:          cfg.WhatsAppFrom,
		publicBaseURL: publicBaseURL,
		logger:        logger.Named("whatsapp"),
	}
}

// SendReport sends the message with the artifact's public URL attached as
// media. The recipient must be a WhatsApp-enabled phone handle.
func (d *Dispatcher) SendReport(phone, reportPublicPath string) DeliveryResult {
	mediaURL := strings.TrimRight(d.publicBaseURL, "/") + reportPublicPath

	params := &openapi.CreateMessageParams{}
	params.SetFrom(d.from)
	params.SetTo("whatsapp:" + phone)
	params.SetBody("Here is your Breast Cancer Prediction Report")
	params.SetMediaUrl([]string{mediaURL})

	msg, err := d.api.CreateMessage(params)
	if err != nil {
		d.logger.Error("whatsapp delivery failed", zap.String("phone", phone), zap.Error(err))
		return DeliveryResult{Status: "error", Message: "Failed: " + err.Error()}
	}

	result := DeliveryResult{Status: "success", Message: "WhatsApp report sent"}
	if msg.Sid != nil {
		result.SID = *msg.Sid
	}
	d.logger.Info("whatsapp report sent", zap.String("phone", phone), zap.String("sid", result.SID))
	return result
}
