package server

import (
	"roastline/internal/ai"
	"roastline/internal/domain"
)

// Request payloads

type CompleteRoastRequest struct {
	Outcome map[string]any `json:"outcome,omitempty"`
}

type DevLoginRequest struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type AIResponse struct {
	Recommendation map[string]any `json:"recommendation,omitempty"`
	RawText        string         `json:"raw_text,omitempty"`
	ParseError     bool           `json:"parse_error,omitempty"`
}

func aiResponse(r ai.Result) AIResponse {
	return AIResponse{
		Recommendation: r.Recommendation,
		RawText:        r.RawText,
		ParseError:     r.ParseError,
	}
}

func nonNilRoasts(items []domain.ScheduledRoast) []domain.ScheduledRoast {
	if items == nil {
		return []domain.ScheduledRoast{}
	}
	return items
}
