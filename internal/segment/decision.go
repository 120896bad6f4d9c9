package segment

import "fmt"

// Action is what the engine did with a page
type Action string

const (
	ActionSeed        Action = "seed"         // first identity adopted, no split
	ActionContinue    Action = "continue"     // page appended to the current group
	ActionSplit       Action = "split"        // previous group closed before this page
	ActionForcedSplit Action = "forced_split" // group closed after this page at the size cap
	ActionFinalize    Action = "finalize"     // trailing group closed at end of stream
)

// Reason explains the comparison that produced an Action
type Reason string

const (
	ReasonNoEvidence        Reason = "no_evidence"
	ReasonFirstIdentity     Reason = "first_identity"
	ReasonPatientIDMismatch Reason = "patient_id_mismatch"
	ReasonPatientIDMatch    Reason = "patient_id_match"
	ReasonNameMismatch      Reason = "name_mismatch"
	ReasonNameMatch         Reason = "name_match"
	ReasonDOBMismatch       Reason = "dob_mismatch"
	ReasonDOBMatch          Reason = "dob_match"
	ReasonNoOverlap         Reason = "no_overlap"
	ReasonMaxPages          Reason = "max_pages_reached"
	ReasonEndOfStream       Reason = "end_of_stream"
)

// Decision records one step of a segmentation run. Callers may render it
// as log lines, count it as metrics, or drop it.
type Decision struct {
	PageIndex   int                `json:"pageIndex"`
	Action      Action             `json:"action"`
	Reason      Reason             `json:"reason"`
	GroupIndex  int                `json:"groupIndex"` // report index of the group the page ended up in, or the group closed
	GroupSize   int                `json:"groupSize"`
	Candidate   *IdentityCandidate `json:"candidate,omitempty"`
	GroupClosed bool               `json:"groupClosed,omitempty"`
}

func (d Decision) String() string {
	return fmt.Sprintf("page %d: %s (%s) group=%d size=%d", d.PageIndex, d.Action, d.Reason, d.GroupIndex, d.GroupSize)
}
