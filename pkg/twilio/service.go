package twilio

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// TwilioService wraps the Twilio REST client for webhook signature
// validation and provider-side call control.
// If accountSID or authToken is empty the service is disabled: signature
// checks pass and call control becomes a no-op, which keeps local
// development working without provider credentials.
type TwilioService struct {
	client     *twilio.RestClient
	validator  *twilioclient.RequestValidator
	enabled    bool
	accountSID string
}

// NewTwilioService creates a new Twilio service.
func NewTwilioService(accountSID, authToken string) *TwilioService {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, signature validation disabled")
		return &TwilioService{enabled: false}
	}

	validator := twilioclient.NewRequestValidator(authToken)
	return &TwilioService{
		client:     twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		validator:  &validator,
		enabled:    true,
		accountSID: accountSID,
	}
}

// IsEnabled returns whether provider credentials are configured.
func (s *TwilioService) IsEnabled() bool {
	return s.enabled
}

// ValidateWebhook checks the X-Twilio-Signature header against the request
// URL and form parameters. Always true when the service is disabled.
func (s *TwilioService) ValidateWebhook(r *http.Request, publicURL string, params url.Values) bool {
	if !s.enabled {
		return true
	}

	flat := make(map[string]string, len(params))
	for k, v := range params {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	return s.validator.Validate(publicURL, flat, r.Header.Get("X-Twilio-Signature"))
}

// CompleteCall asks Twilio to hang up the provider-side call leg.
func (s *TwilioService) CompleteCall(callSID string) error {
	if !s.enabled {
		return nil
	}
	if callSID == "" {
		return fmt.Errorf("empty call SID")
	}

	status := "completed"
	_, err := s.client.Api.UpdateCall(callSID, &api.UpdateCallParams{Status: &status})
	if err != nil {
		logger.Base().Error("failed to complete Twilio call",
			zap.String("call_sid", callSID), zap.Error(err))
		return err
	}

	logger.Base().Info("Twilio call completed", zap.String("call_sid", callSID))
	return nil
}

// FetchCallStatus returns the provider-side status of a call leg.
func (s *TwilioService) FetchCallStatus(callSID string) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("twilio service is disabled")
	}

	call, err := s.client.Api.FetchCall(callSID, &api.FetchCallParams{})
	if err != nil {
		return "", err
	}
	if call.Status == nil {
		return "", nil
	}
	return *call.Status, nil
}
