// Package models contains domain types for adpilot.
package models

import "context"

// ReviewerKind represents how a review or apply decision was made.
type ReviewerKind string

const (
	ReviewerHuman     ReviewerKind = "human"     // Operator via CLI or a host application
	ReviewerAutomatic ReviewerKind = "automatic" // Auto-approval policy
)

// String returns the string representation of a ReviewerKind.
func (k ReviewerKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a known reviewer kind.
func (k ReviewerKind) IsValid() bool {
	switch k {
	case ReviewerHuman, ReviewerAutomatic:
		return true
	default:
		return false
	}
}

// Provenance carries who made a review or apply decision through operations.
type Provenance struct {
	Kind ReviewerKind
	// Actor is a free-form reviewer identifier (user name, email or policy name).
	Actor string
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
// Returns the provenance and true if present, otherwise a zero value and false.
func GetProvenance(ctx context.Context) (Provenance, bool) {
	p, ok := ctx.Value(provenanceKey{}).(Provenance)
	return p, ok
}

// WithHumanReviewer returns a context attributing decisions to a person.
func WithHumanReviewer(ctx context.Context, actor string) context.Context {
	return WithProvenance(ctx, Provenance{Kind: ReviewerHuman, Actor: actor})
}

// WithAutomaticReviewer returns a context attributing decisions to a policy.
func WithAutomaticReviewer(ctx context.Context, policy string) context.Context {
	return WithProvenance(ctx, Provenance{Kind: ReviewerAutomatic, Actor: policy})
}

// ProvenanceDetails renders the context's provenance as activity details,
// or nil when none is attached.
func ProvenanceDetails(ctx context.Context) map[string]any {
	p, ok := GetProvenance(ctx)
	if !ok {
		return nil
	}
	details := map[string]any{"reviewer_kind": p.Kind.String()}
	if p.Actor != "" {
		details["reviewer"] = p.Actor
	}
	return details
}
