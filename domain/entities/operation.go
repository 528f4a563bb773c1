package entities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OperationKind enumerates the metered operations
type OperationKind string

const (
	OperationComplianceAuditVideo OperationKind = "compliance-audit-video"
	OperationComplianceAuditImage OperationKind = "compliance-audit-image"
	OperationImageEdit            OperationKind = "image-edit"
	OperationImageGenerate        OperationKind = "image-generate"
	OperationVoiceTranscribe      OperationKind = "voice-transcribe"
	OperationVoiceSynthesize      OperationKind = "voice-synthesize"
	OperationVideoGenerate        OperationKind = "video-generate"
	OperationChatTurn             OperationKind = "chat-turn"
)

// OperationKinds lists every metered operation
var OperationKinds = []OperationKind{
	OperationComplianceAuditVideo,
	OperationComplianceAuditImage,
	OperationImageEdit,
	OperationImageGenerate,
	OperationVoiceTranscribe,
	OperationVoiceSynthesize,
	OperationVideoGenerate,
	OperationChatTurn,
}

// CostTable maps each operation kind to its cost. It is immutable once built.
type CostTable struct {
	costs map[OperationKind]decimal.Decimal
}

// DefaultCostTable returns the standard pricing
func DefaultCostTable() CostTable {
	table, err := NewCostTable(map[OperationKind]decimal.Decimal{
		OperationComplianceAuditVideo: decimal.NewFromInt(2),
		OperationComplianceAuditImage: decimal.NewFromInt(1),
		OperationImageEdit:            decimal.NewFromInt(1),
		OperationImageGenerate:        decimal.NewFromInt(1),
		OperationVoiceTranscribe:      decimal.NewFromInt(1),
		OperationVoiceSynthesize:      decimal.NewFromInt(1),
		OperationVideoGenerate:        decimal.NewFromInt(5),
		OperationChatTurn:             decimal.RequireFromString("0.5"),
	})
	if err != nil {
		panic(err)
	}
	return table
}

// NewCostTable validates that every operation kind has exactly one non-negative cost
func NewCostTable(costs map[OperationKind]decimal.Decimal) (CostTable, error) {
	copied := make(map[OperationKind]decimal.Decimal, len(costs))
	for kind, cost := range costs {
		if !kind.Valid() {
			return CostTable{}, fmt.Errorf("unknown operation kind %q", kind)
		}
		if cost.IsNegative() {
			return CostTable{}, fmt.Errorf("cost for %s must not be negative, got %s", kind, cost)
		}
		copied[kind] = cost
	}
	for _, kind := range OperationKinds {
		if _, ok := copied[kind]; !ok {
			return CostTable{}, fmt.Errorf("missing cost for %s", kind)
		}
	}
	return CostTable{costs: copied}, nil
}

// Cost returns the cost of kind
func (t CostTable) Cost(kind OperationKind) (decimal.Decimal, bool) {
	cost, ok := t.costs[kind]
	return cost, ok
}

// Valid reports whether k is a known operation kind
func (k OperationKind) Valid() bool {
	for _, known := range OperationKinds {
		if k == known {
			return true
		}
	}
	return false
}
