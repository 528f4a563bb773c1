package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/exbuilderia/studio/server/domain/entities"
)

// SessionRequest opens a session for a signed-in profile
type SessionRequest struct {
	UserID string `json:"userId" form:"userId" validate:"required,max=128"`
	Email  string `json:"email" form:"email" validate:"omitempty,email"`
	Name   string `json:"name" form:"name" validate:"max=128"`
}

// SessionResponse carries the bearer token for later requests
type SessionResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Account   AccountPayload `json:"account"`
}

// AccountPayload is the balance view shown to the client
type AccountPayload struct {
	ID           string          `json:"id"`
	DisplayName  string          `json:"displayName"`
	Email        string          `json:"email,omitempty"`
	AvatarURL    string          `json:"avatarUrl,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	BalanceStale bool            `json:"balanceStale"`
	Guest        bool            `json:"guest"`
}

func newAccountPayload(account entities.Account) AccountPayload {
	return AccountPayload{
		ID:           account.ID,
		DisplayName:  account.DisplayName,
		Email:        account.Email,
		AvatarURL:    account.AvatarURL,
		Balance:      account.Credits,
		BalanceStale: account.Stale,
		Guest:        entities.IsGuestID(account.ID),
	}
}

// PromptRequest is any trigger taking a single prompt
type PromptRequest struct {
	Prompt string `json:"prompt" form:"prompt" validate:"required,max=4000"`
}

// SynthesizeRequest asks for speech in one of the supported voices
type SynthesizeRequest struct {
	Text    string `json:"text" form:"text" validate:"required,max=5000"`
	VoiceID string `json:"voiceId" form:"voiceId"`
}

// VideoRequest describes a video generation job. The reference image, if
// any, arrives as the multipart file field.
type VideoRequest struct {
	Prompt      string `json:"prompt" form:"prompt" validate:"required,max=4000"`
	AspectRatio string `json:"aspectRatio" form:"aspectRatio"`
}

// ChatRequest is one user turn
type ChatRequest struct {
	Text string `json:"text" form:"text" validate:"required,max=8000"`
}

// ChatHistoryResponse lists the stored turns
type ChatHistoryResponse struct {
	Turns []entities.ChatTurn `json:"turns"`
}

// RefineRequest is a short idea to expand
type RefineRequest struct {
	Text string `json:"text" form:"text" validate:"required,max=2000"`
}

// RefineResponse is the expanded prompt
type RefineResponse struct {
	Prompt string `json:"prompt"`
}

// TopupRequest buys a credit pack
type TopupRequest struct {
	PackID string `json:"packId" form:"packId" validate:"required"`
}

// PacksResponse lists the purchasable packs
type PacksResponse struct {
	Currency string                `json:"currency"`
	Packs    []entities.CreditPack `json:"packs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	TopUpRequired bool   `json:"topUpRequired,omitempty"`
}
