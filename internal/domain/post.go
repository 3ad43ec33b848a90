package domain

// Post is one entry of an author feed, in the order the platform returned it.
type Post struct {
	ID     string `json:"postId"`
	CID    string `json:"cid,omitempty"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

type Classification string

const (
	ClassificationAccurate   Classification = "accurate"
	ClassificationInaccurate Classification = "inaccurate"
	ClassificationContested  Classification = "contested"
	ClassificationNeutral    Classification = "neutral"
)

func ValidClassification(c string) bool {
	switch Classification(c) {
	case ClassificationAccurate, ClassificationInaccurate, ClassificationContested, ClassificationNeutral:
		return true
	}
	return false
}

// ClaimResult is the verdict of the claim classifier for one text.
type ClaimResult struct {
	Classification Classification `json:"classification"`
	EvidenceRefs   []string       `json:"evidenceRefs"`
}

// NeutralResult is what a failed classification degrades to.
func NeutralResult() ClaimResult {
	return ClaimResult{Classification: ClassificationNeutral, EvidenceRefs: []string{}}
}
