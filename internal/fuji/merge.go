package fuji

import (
	"dario.cat/mergo"

	"github.com/veritas-os/veritas/internal/errs"
)

// MergePolicyPatch overlays patch onto base, field by field, leaving any
// zero-valued field in patch untouched on base. This backs the
// governance surface's partial policy update (spec.md §6: "operators
// PATCH only the fields they mean to change"), so a caller adjusting
// risk_thresholds alone does not have to resend signal_weights,
// auto_stop, and every other section verbatim.
//
// mergo.WithOverride makes a present (non-zero) field in patch win over
// base; without it mergo only fills holes in base, which is the wrong
// direction for a PATCH. The merged result is still run through
// Validate before it is ever persisted (see Store.UpdatePolicy).
func MergePolicyPatch(base, patch Policy) (Policy, error) {
	merged := base
	if err := mergo.Merge(&merged, patch, mergo.WithOverride); err != nil {
		return Policy{}, errs.New(errs.KindPolicyError, "fuji: merge policy patch", err)
	}
	return merged, nil
}
