package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/Harshitk-cp/skytrust/internal/opinion"
)

const (
	FacetAccuracy = "accuracy"
	FacetCivility = "civility"
)

// DefaultPrior is the non-informative prior weight used when deriving facet opinions.
const DefaultPrior = 2.0

// ScoreFacet is one named reputation dimension. Counts and opinion are
// always built together through NewScoreFacet.
type ScoreFacet struct {
	Alpha   int             `json:"alpha"`
	Beta    int             `json:"beta"`
	Opinion opinion.Opinion `json:"-"`
}

func NewScoreFacet(alpha, beta int, prior float64) (ScoreFacet, error) {
	o, err := opinion.EvidenceToOpinion(float64(alpha), float64(beta), prior)
	if err != nil {
		return ScoreFacet{}, fmt.Errorf("derive facet opinion: %w", err)
	}
	return ScoreFacet{Alpha: alpha, Beta: beta, Opinion: o}, nil
}

// EmptyFacet has no evidence and total uncertainty.
func EmptyFacet() ScoreFacet {
	return ScoreFacet{Opinion: opinion.Vacuous}
}

// scoreFacetJSON flattens the opinion next to the counts:
// {"alpha":8,"beta":2,"b":0.66,"d":0.16,"u":0.16}
type scoreFacetJSON struct {
	Alpha int     `json:"alpha"`
	Beta  int     `json:"beta"`
	B     float64 `json:"b"`
	D     float64 `json:"d"`
	U     float64 `json:"u"`
}

func (f ScoreFacet) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoreFacetJSON{
		Alpha: f.Alpha,
		Beta:  f.Beta,
		B:     f.Opinion.B,
		D:     f.Opinion.D,
		U:     f.Opinion.U,
	})
}

func (f *ScoreFacet) UnmarshalJSON(data []byte) error {
	var raw scoreFacetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Alpha = raw.Alpha
	f.Beta = raw.Beta
	f.Opinion = opinion.New(raw.B, raw.D, raw.U)
	return nil
}

type ExpertiseScore struct {
	Domain string  `json:"domain"`
	Score  float64 `json:"score"`
}

// EvidenceRecord points at a post whose claim was classified as contested.
type EvidenceRecord struct {
	PostID         string         `json:"postId"`
	Domain         string         `json:"domain"`
	Classification Classification `json:"classification"`
	EvidenceRefs   []string       `json:"evidenceRefs"`
}

// Coverage records how much was actually examined, so a fully uncertain
// score from zero posts can be told apart from one where nothing matched.
type Coverage struct {
	PostsFetched       int `json:"postsFetched"`
	PostsExamined      int `json:"postsExamined"`
	ClaimsChecked      int `json:"claimsChecked"`
	ClassifierFailures int `json:"classifierFailures"`
	// ClaimsSkipped counts eligible posts left unclassified because the job
	// ran out of time.
	ClaimsSkipped int  `json:"claimsSkipped"`
	FetchFailed   bool `json:"fetchFailed"`
}

type UserScoreDocument struct {
	Identity       string                `json:"did"`
	Handle         string                `json:"handle"`
	UpdatedAt      int64                 `json:"updatedAt"`
	Facets         map[string]ScoreFacet `json:"facets"`
	BotProbability float64               `json:"botProb"`
	Expertise      []ExpertiseScore      `json:"expertise"`
	Evidence       []EvidenceRecord      `json:"evidence"`
	Coverage       *Coverage             `json:"coverage,omitempty"`
}

// DefaultScoreDocument is returned for identities that have never been scored.
func DefaultScoreDocument(identity string) UserScoreDocument {
	return UserScoreDocument{
		Identity: identity,
		Handle:   identity,
		Facets: map[string]ScoreFacet{
			FacetAccuracy: EmptyFacet(),
			FacetCivility: EmptyFacet(),
		},
		Expertise: []ExpertiseScore{},
		Evidence:  []EvidenceRecord{},
	}
}

// Clone returns a deep copy so the caller and the store never share slices or maps.
func (d UserScoreDocument) Clone() UserScoreDocument {
	out := d
	out.Facets = maps.Clone(d.Facets)
	out.Expertise = slices.Clone(d.Expertise)
	if d.Evidence != nil {
		out.Evidence = make([]EvidenceRecord, len(d.Evidence))
		for i, e := range d.Evidence {
			e.EvidenceRefs = slices.Clone(e.EvidenceRefs)
			out.Evidence[i] = e
		}
	}
	if d.Coverage != nil {
		c := *d.Coverage
		out.Coverage = &c
	}
	return out
}
