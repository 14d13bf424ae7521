package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"sheetpilot/engine/internal/errinfo"
	"sheetpilot/engine/internal/llm"
)

func mapLLMError(phase, providerID string, err error) *errinfo.ErrorInfo {
	if errors.Is(err, llm.ErrUnauthorized) {
		info := errinfo.ProviderAuthFailed(phase)
		info.ProviderID = providerID
		return info
	}
	if errors.Is(err, llm.ErrEgressBlocked) {
		info := errinfo.EgressBlocked(phase)
		info.ProviderID = providerID
		return info
	}
	if errors.Is(err, llm.ErrRateLimited) {
		info := errinfo.ProviderRateLimited(phase)
		info.ProviderID = providerID
		return info
	}
	if errors.Is(err, llm.ErrMalformed) {
		info := errinfo.ResponseMalformed(phase, err.Error())
		info.ProviderID = providerID
		return info
	}
	if errors.Is(err, llm.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		info := errinfo.ProviderUnavailable(phase, err.Error())
		info.ProviderID = providerID
		return info
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		info := errinfo.ProviderUnavailable(phase, err.Error())
		info.ProviderID = providerID
		return info
	}
	info := errinfo.ProviderUnavailable(phase, err.Error())
	info.ProviderID = providerID
	return info
}

// gatewayFailureText is what the user sees when a model round fails.
// Credential rejection gets its own actionable message.
func gatewayFailureText(providerID string, err error) string {
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		return fmt.Sprintf("The %s API key was rejected. Please update your credentials in settings.", providerID)
	case errors.Is(err, llm.ErrRateLimited):
		return "The model service is rate limiting requests right now. Please try again in a moment."
	case errors.Is(err, llm.ErrMalformed):
		return "The model service returned an unusable response. Please try again."
	default:
		return fmt.Sprintf("I couldn't reach the model service: %s", err.Error())
	}
}

const missingCredentialText = "No API key is configured for the selected model. Add one in settings before chatting."
