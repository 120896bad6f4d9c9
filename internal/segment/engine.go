package segment

import (
	"errors"
	"fmt"
	"sort"
)

const (
	DefaultMaxPagesPerPatient  = 10
	DefaultConfidenceThreshold = 80.0
)

// ForcedSplitPolicy selects what happens to the anchor identity when a
// group is closed because it reached the page cap
type ForcedSplitPolicy string

const (
	// ForcedSplitReset forgets the anchor; the next identity seeds a new one
	ForcedSplitReset ForcedSplitPolicy = "reset"
	// ForcedSplitCarry keeps comparing against the anchor of the closed group
	ForcedSplitCarry ForcedSplitPolicy = "carry"
)

// Config is the immutable input of a Segmenter
type Config struct {
	Mapping             FieldMapping
	MaxPagesPerPatient  int
	ConfidenceThreshold float64
	ForcedSplit         ForcedSplitPolicy
}

// DefaultConfig returns the default segmentation settings
func DefaultConfig() Config {
	return Config{
		Mapping:             DefaultFieldMapping(),
		MaxPagesPerPatient:  DefaultMaxPagesPerPatient,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ForcedSplit:         ForcedSplitReset,
	}
}

// Validate checks the settings are usable
func (c Config) Validate() error {
	if c.MaxPagesPerPatient < 1 {
		return errors.New("max pages per patient must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("confidence threshold must be between 0 and 100, got %v", c.ConfidenceThreshold)
	}
	if c.ForcedSplit != ForcedSplitReset && c.ForcedSplit != ForcedSplitCarry {
		return fmt.Errorf("invalid forced split policy: %q (must be reset or carry)", c.ForcedSplit)
	}
	return nil
}

// Segmenter groups an ordered page stream into per-patient runs. It holds
// no per-run state and is safe for concurrent use.
type Segmenter struct {
	config    Config
	extractor *Extractor
}

// NewSegmenter creates a segmenter for cfg
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: ErrorKindConfig, Message: "invalid segmentation config", Err: err}
	}
	return &Segmenter{config: cfg, extractor: NewExtractor(cfg.Mapping)}, nil
}

// Config returns the settings the segmenter was built with
func (s *Segmenter) Config() Config {
	return s.config
}

// run holds the accumulator for a single pass over one document
type run struct {
	cfg       Config
	groups    []PatientGroup
	decisions []Decision

	anchor   *IdentityCandidate
	pages    []PageRecord
	hasData  bool
	identity *IdentityCandidate
}

// Segment scans pages in ascending Index order and returns the patient
// groups they form. Nothing is returned on error.
func (s *Segmenter) Segment(pages []PageRecord) (*Result, error) {
	if len(pages) == 0 {
		return nil, newError(ErrorKindInput, ErrEmptyInput, "segmentation requires at least one page")
	}

	ordered := make([]PageRecord, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	r := &run{cfg: s.config}
	for _, page := range ordered {
		r.step(page, s.extractor.Extract(page))
	}
	if len(r.pages) > 0 {
		last := r.pages[len(r.pages)-1].Index
		r.decisions = append(r.decisions, Decision{
			PageIndex:   last,
			Action:      ActionFinalize,
			Reason:      ReasonEndOfStream,
			GroupIndex:  len(r.groups),
			GroupSize:   len(r.pages),
			GroupClosed: true,
		})
		r.finalize(false)
	}

	groups := make([]PatientGroup, 0, len(r.groups))
	for _, g := range r.groups {
		if g.PageCount == 0 {
			continue
		}
		g.ReportIndex = len(groups)
		g.Completeness = Score(g.Identity, g.AverageConfidence(), s.config.ConfidenceThreshold)
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, newError(ErrorKindNoViableGroups, ErrNoViableGroups, "%d pages scanned", len(ordered))
	}

	return &Result{
		Groups:         groups,
		Decisions:      r.decisions,
		MappingVersion: s.config.Mapping.Version(),
	}, nil
}

func (r *run) step(page PageRecord, candidate *IdentityCandidate) {
	different, reason := isDifferentPatient(r.anchor, candidate)
	action := ActionContinue

	switch {
	case different && len(r.pages) > 0:
		r.finalize(false)
		r.anchor = candidate
		action = ActionSplit
	case different:
		// nothing accumulated yet: adopt the identity without closing a group
		r.anchor = candidate
		action = ActionSeed
	}

	r.pages = append(r.pages, page)
	if candidate != nil {
		r.hasData = true
		if r.identity == nil {
			r.identity = candidate
		}
	}
	r.decisions = append(r.decisions, Decision{
		PageIndex:  page.Index,
		Action:     action,
		Reason:     reason,
		GroupIndex: len(r.groups),
		GroupSize:  len(r.pages),
		Candidate:  candidate,
	})

	if len(r.pages) >= r.cfg.MaxPagesPerPatient {
		r.decisions = append(r.decisions, Decision{
			PageIndex:   page.Index,
			Action:      ActionForcedSplit,
			Reason:      ReasonMaxPages,
			GroupIndex:  len(r.groups),
			GroupSize:   len(r.pages),
			GroupClosed: true,
		})
		r.finalize(true)
		if r.cfg.ForcedSplit == ForcedSplitReset {
			r.anchor = nil
		}
	}
}

// finalize closes the accumulated pages into a group and resets the
// accumulator. The anchor is left for the caller to manage.
func (r *run) finalize(forced bool) {
	if len(r.pages) == 0 {
		return
	}
	identity := r.anchor
	if identity == nil {
		identity = r.identity
	}
	r.groups = append(r.groups, PatientGroup{
		ReportIndex:    len(r.groups),
		Pages:          r.pages,
		FirstPageIndex: r.pages[0].Index,
		LastPageIndex:  r.pages[len(r.pages)-1].Index,
		PageCount:      len(r.pages),
		HasPatientData: r.hasData,
		Identity:       identity,
		ForcedSplit:    forced,
	})
	r.pages = nil
	r.hasData = false
	r.identity = nil
}

// isDifferentPatient compares a page's candidate against the current
// anchor. Patient id is authoritative, then name, then date of birth; with
// no shared field the pages are assumed to belong together.
func isDifferentPatient(anchor, candidate *IdentityCandidate) (bool, Reason) {
	switch {
	case anchor == nil:
		if candidate == nil {
			return false, ReasonNoEvidence
		}
		return true, ReasonFirstIdentity
	case candidate == nil:
		return false, ReasonNoEvidence
	case anchor.PatientID != nil && candidate.PatientID != nil:
		if *anchor.PatientID != *candidate.PatientID {
			return true, ReasonPatientIDMismatch
		}
		return false, ReasonPatientIDMatch
	case anchor.Name != nil && candidate.Name != nil:
		if *anchor.Name != *candidate.Name {
			return true, ReasonNameMismatch
		}
		return false, ReasonNameMatch
	case anchor.DOB != nil && candidate.DOB != nil:
		if *anchor.DOB != *candidate.DOB {
			return true, ReasonDOBMismatch
		}
		return false, ReasonDOBMatch
	default:
		return false, ReasonNoOverlap
	}
}
