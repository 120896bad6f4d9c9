package segment

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idPage(index int, id string) PageRecord {
	return PageRecord{Index: index, Confidence: 90, Fields: map[string]string{"patient id": id}}
}

func namePage(index int, name string) PageRecord {
	return PageRecord{Index: index, Confidence: 90, Fields: map[string]string{"patient name": name}}
}

func blankPage(index int) PageRecord {
	return PageRecord{Index: index, Confidence: 90}
}

func newTestSegmenter(t *testing.T, mutate func(*Config)) *Segmenter {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSegmenter(cfg)
	require.NoError(t, err)
	return s
}

func pageCounts(r *Result) []int {
	out := make([]int, len(r.Groups))
	for i, g := range r.Groups {
		out[i] = g.PageCount
	}
	return out
}

func assertPartition(t *testing.T, input []PageRecord, r *Result) {
	t.Helper()
	var got []int
	for i, g := range r.Groups {
		assert.Equal(t, i, g.ReportIndex)
		assert.Equal(t, len(g.Pages), g.PageCount)
		require.NotEmpty(t, g.Pages)
		assert.Equal(t, g.Pages[0].Index, g.FirstPageIndex)
		assert.Equal(t, g.Pages[len(g.Pages)-1].Index, g.LastPageIndex)
		assert.LessOrEqual(t, g.FirstPageIndex, g.LastPageIndex)
		got = append(got, g.PageIndexes()...)
	}
	want := make([]int, len(input))
	for i, p := range input {
		want[i] = p.Index
	}
	assert.Equal(t, want, got)
}

func TestSegment_DocumentedScenario(t *testing.T) {
	s := newTestSegmenter(t, nil)

	ids := []string{"A-100", "A-100", "A-100", "B-200", "B-200", "C-300", "C-300", "C-300", "D-400", "D-400"}
	pages := make([]PageRecord, len(ids))
	for i, id := range ids {
		pages[i] = idPage(i, id)
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 2, 3, 2}, pageCounts(r))
	assertPartition(t, pages, r)
	for _, g := range r.Groups {
		assert.True(t, g.HasPatientData)
		assert.False(t, g.ForcedSplit)
	}
	assert.Equal(t, "A100", *r.Groups[0].Identity.PatientID)
	assert.Equal(t, "D400", *r.Groups[3].Identity.PatientID)
}

func TestSegment_EmptyInput(t *testing.T) {
	s := newTestSegmenter(t, nil)

	r, err := s.Segment(nil)
	assert.Nil(t, r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyInput))
	assert.Equal(t, ErrorKindInput, KindOf(err))
}

func TestSegment_AllBlankPagesFormOneGroup(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{blankPage(0), blankPage(1), blankPage(2), blankPage(3)}
	r, err := s.Segment(pages)
	require.NoError(t, err)

	require.Len(t, r.Groups, 1)
	assert.Equal(t, 4, r.Groups[0].PageCount)
	assert.False(t, r.Groups[0].HasPatientData)
	assert.Nil(t, r.Groups[0].Identity)
	assert.Equal(t, 0.0, r.Groups[0].Completeness.Completeness)
}

func TestSegment_IdentifierPrecedence(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{
		{Index: 0, Fields: map[string]string{"patient name": "Jane Doe", "patient id": "X-1001"}},
		{Index: 1, Fields: map[string]string{"patient name": "Jane Doe", "patient id": "X-1002"}},
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, pageCounts(r))
}

func TestSegment_IdentifierOverridesNameDifference(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{
		{Index: 0, Fields: map[string]string{"patient name": "Jane Doe", "patient id": "X-1001"}},
		{Index: 1, Fields: map[string]string{"patient name": "J Doe", "patient id": "X-1001"}},
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, pageCounts(r))
}

func TestSegment_NameThenDOBComparison(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{
		namePage(0, "Jane Doe"),
		namePage(1, "Jane Doe"),
		namePage(2, "John Roe"),
		// id only: no overlap with a name-only anchor, merged
		idPage(3, "Z-9999"),
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, pageCounts(r))
}

func TestSegment_DOBUsedAsLastResort(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{
		{Index: 0, Fields: map[string]string{"patient id": "AAA-1", "dob": "1980-01-01"}},
		{Index: 1, Fields: map[string]string{"patient name": "Jane Doe", "dob": "1980-01-01"}},
		{Index: 2, Fields: map[string]string{"patient name": "Jane Doe", "dob": "1990-05-05"}},
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, pageCounts(r))
	assert.Equal(t, ReasonDOBMatch, r.Decisions[1].Reason)
	assert.Equal(t, ReasonDOBMismatch, r.Decisions[2].Reason)
}

func TestSegment_ContinuationOnMissingEvidence(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{
		idPage(0, "A-100"),
		blankPage(1),
		{Index: 2, Tables: []Table{{{"Glucose", "98"}}}},
		idPage(3, "A-100"),
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	require.Len(t, r.Groups, 1)
	assert.Equal(t, 4, r.Groups[0].PageCount)
}

func TestSegment_LeadingBlankPagesSplitOnFirstIdentity(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{blankPage(0), blankPage(1), idPage(2, "A-100"), idPage(3, "A-100")}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, pageCounts(r))
	assert.False(t, r.Groups[0].HasPatientData)
	assert.True(t, r.Groups[1].HasPatientData)
	assert.Equal(t, ActionSplit, r.Decisions[2].Action)
	assert.Equal(t, ReasonFirstIdentity, r.Decisions[2].Reason)
}

func TestSegment_FirstIdentitySeedsWithoutSplit(t *testing.T) {
	s := newTestSegmenter(t, nil)

	r, err := s.Segment([]PageRecord{idPage(0, "A-100"), blankPage(1)})
	require.NoError(t, err)

	require.Len(t, r.Groups, 1)
	assert.Equal(t, ActionSeed, r.Decisions[0].Action)
	assert.Equal(t, ActionContinue, r.Decisions[1].Action)
	assert.Equal(t, ActionFinalize, r.Decisions[len(r.Decisions)-1].Action)
}

func TestSegment_ForcedSplitResetsAnchor(t *testing.T) {
	s := newTestSegmenter(t, func(c *Config) { c.MaxPagesPerPatient = 3 })

	pages := []PageRecord{
		idPage(0, "A-100"),
		idPage(1, "A-100"),
		idPage(2, "A-100"),
		idPage(3, "A-100"),
		idPage(4, "A-100"),
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 2}, pageCounts(r))
	assert.True(t, r.Groups[0].ForcedSplit)
	assert.False(t, r.Groups[1].ForcedSplit)

	// page 3 is evaluated as a fresh first identity, not a match
	var page3 []Decision
	for _, d := range r.Decisions {
		if d.PageIndex == 3 {
			page3 = append(page3, d)
		}
	}
	require.Len(t, page3, 1)
	assert.Equal(t, ActionSeed, page3[0].Action)
	assert.Equal(t, ReasonFirstIdentity, page3[0].Reason)
}

func TestSegment_ForcedSplitResetThenBlankPage(t *testing.T) {
	s := newTestSegmenter(t, func(c *Config) { c.MaxPagesPerPatient = 2 })

	pages := []PageRecord{idPage(0, "A-100"), idPage(1, "A-100"), blankPage(2), idPage(3, "A-100")}

	r, err := s.Segment(pages)
	require.NoError(t, err)

	// with the anchor forgotten, the blank page cannot be re-attached and
	// the returning identity opens a new group
	assert.Equal(t, []int{2, 1, 1}, pageCounts(r))
	assertPartition(t, pages, r)
}

func TestSegment_ForcedSplitCarryKeepsAnchor(t *testing.T) {
	s := newTestSegmenter(t, func(c *Config) {
		c.MaxPagesPerPatient = 2
		c.ForcedSplit = ForcedSplitCarry
	})

	pages := []PageRecord{idPage(0, "A-100"), idPage(1, "A-100"), blankPage(2), idPage(3, "A-100"), idPage(4, "B-200")}

	r, err := s.Segment(pages)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, pageCounts(r))
	assert.Equal(t, "A100", *r.Groups[1].Identity.PatientID)
	assert.Equal(t, "B200", *r.Groups[2].Identity.PatientID)
}

func TestSegment_UnorderedInputIsSorted(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{idPage(2, "B-200"), idPage(0, "A-100"), idPage(1, "A-100")}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, pageCounts(r))
	assert.Equal(t, []int{0, 1}, r.Groups[0].PageIndexes())
	assert.Equal(t, 2, pages[0].Index, "input slice must not be reordered")
}

func TestSegment_CompletenessAttached(t *testing.T) {
	s := newTestSegmenter(t, nil)

	pages := []PageRecord{
		{Index: 0, Confidence: 95, Fields: map[string]string{"patient name": "Jane Doe", "patient id": "A-100"}},
		{Index: 1, Confidence: 75},
	}

	r, err := s.Segment(pages)
	require.NoError(t, err)
	require.Len(t, r.Groups, 1)

	summary := r.Groups[0].Completeness
	assert.InDelta(t, 2.0/3.0, summary.Completeness, 1e-9)
	assert.InDelta(t, 85.0, summary.OCRConfidence, 1e-9)
	assert.True(t, summary.IsHighConfidence)
}

func TestSegment_MappingVersionRecorded(t *testing.T) {
	mapping, err := DefaultFieldMapping().WithAliases(FieldPatientID, "account")
	require.NoError(t, err)

	s := newTestSegmenter(t, func(c *Config) { c.Mapping = mapping })
	r, err := s.Segment([]PageRecord{blankPage(0)})
	require.NoError(t, err)
	assert.Equal(t, mapping.Version(), r.MappingVersion)
}

func TestNewSegmenter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max pages", func(c *Config) { c.MaxPagesPerPatient = 0 }},
		{"negative threshold", func(c *Config) { c.ConfidenceThreshold = -1 }},
		{"threshold above 100", func(c *Config) { c.ConfidenceThreshold = 101 }},
		{"unknown policy", func(c *Config) { c.ForcedSplit = "sometimes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			s, err := NewSegmenter(cfg)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.Equal(t, ErrorKindConfig, KindOf(err))
		})
	}
}

func TestSegment_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"AAA-1", "BBB-2", "CCC-3"}
	names := []string{"Jane Doe", "John Roe"}

	for trial := 0; trial < 200; trial++ {
		maxPages := 1 + rng.Intn(6)
		policy := ForcedSplitReset
		if trial%2 == 1 {
			policy = ForcedSplitCarry
		}
		s := newTestSegmenter(t, func(c *Config) {
			c.MaxPagesPerPatient = maxPages
			c.ForcedSplit = policy
		})

		n := 1 + rng.Intn(30)
		pages := make([]PageRecord, n)
		for i := range pages {
			switch rng.Intn(4) {
			case 0:
				pages[i] = blankPage(i)
			case 1:
				pages[i] = idPage(i, ids[rng.Intn(len(ids))])
			case 2:
				pages[i] = namePage(i, names[rng.Intn(len(names))])
			default:
				pages[i] = PageRecord{Index: i, Tables: []Table{{{"MRN", ids[rng.Intn(len(ids))]}}}}
			}
		}

		r, err := s.Segment(pages)
		require.NoError(t, err, "trial %d", trial)

		t.Run(fmt.Sprintf("trial_%d", trial), func(t *testing.T) {
			assertPartition(t, pages, r)
			for _, g := range r.Groups {
				assert.GreaterOrEqual(t, g.PageCount, 1)
				assert.LessOrEqual(t, g.PageCount, maxPages)
			}
		})
	}
}
