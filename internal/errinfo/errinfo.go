package errinfo

// ErrorInfo is the structured error payload returned over RPC.
type ErrorInfo struct {
	ErrorCode  string   `json:"error_code"`
	Phase      string   `json:"phase,omitempty"`
	Retryable  bool     `json:"retryable"`
	Actions    []string `json:"actions,omitempty"`
	ProviderID string   `json:"provider_id,omitempty"`
	ModelID    string   `json:"model_id,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

const (
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeProviderAuthFailed    = "PROVIDER_AUTH_FAILED"
	CodeProviderRateLimited   = "PROVIDER_RATE_LIMITED"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeResponseMalformed     = "PROVIDER_RESPONSE_MALFORMED"
	CodeEgressBlocked         = "EGRESS_BLOCKED_BY_POLICY"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeHostUnavailable       = "HOST_UNAVAILABLE"
	CodeUnknownModel          = "UNKNOWN_MODEL"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
)

const (
	PhaseChat      = "chat"
	PhaseEmbedding = "embedding"
	PhaseSettings  = "settings"
	PhaseHost      = "host"
)

func ProviderNotConfigured(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderNotConfigured,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func ProviderAuthFailed(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderAuthFailed,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func ProviderRateLimited(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderRateLimited,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func ResponseMalformed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeResponseMalformed,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func EgressBlocked(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEgressBlocked,
		Phase:     phase,
		Retryable: false,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func HostUnavailable(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeHostUnavailable,
		Phase:     PhaseHost,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func UnknownModel(modelID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUnknownModel,
		Phase:     PhaseSettings,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
		ModelID:   modelID,
	}
}
