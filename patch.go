package tour

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"
)

// Patch is an ordered sequence of RFC 6902 operations encoded as a raw JSON
// array. The raw bytes are kept verbatim so the hub can rebroadcast exactly
// what the sender transmitted.
type Patch = json.RawMessage

// DiffTours computes the minimal ordered patch that transforms before into
// after. It returns nil when the two tours are structurally equal.
func DiffTours(before, after *Tour) (Patch, error) {
	ops, err := jsondiff.Compare(before, after)
	if err != nil {
		return nil, newPatchError(PatchErrorTypeUnknown, "diff failed", err)
	}
	if len(ops) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, newPatchError(PatchErrorTypeUnknown, "diff encode failed", err)
	}
	return Patch(raw), nil
}

// ApplyPatch applies an ordered patch to a tour and returns the resulting
// tour. Application is all-or-nothing: the input tour is never mutated, and
// an operation referencing a stale path rejects the entire patch with a
// *PatchError matching ErrPatchRejected.
func ApplyPatch(t *Tour, patch Patch) (*Tour, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return nil, newPatchError(PatchErrorTypeUnknown, "document encode failed", err)
	}

	p, err := jsonpatch.DecodePatch([]byte(patch))
	if err != nil {
		return nil, newPatchError(PatchErrorTypeDecode, "malformed patch", err)
	}

	modified, err := p.Apply(doc)
	if err != nil {
		return nil, newPatchError(PatchErrorTypeApply, "patch does not apply", err)
	}

	var next Tour
	if err := json.Unmarshal(modified, &next); err != nil {
		return nil, newPatchError(PatchErrorTypeApply, "patched document invalid", err)
	}
	return &next, nil
}
