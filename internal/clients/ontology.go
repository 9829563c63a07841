package clients

import "strings"

// StaticOntology is the controlled vocabulary compiled into the service.
type StaticOntology struct {
	organs           map[string]string
	sampleCategories []string
	sourceTypes      []string
	datasetStatuses  []string
}

// NewStaticOntology returns the default vocabulary.
func NewStaticOntology() *StaticOntology {
	return &StaticOntology{
		organs: map[string]string{
			"AD": "Adipose",
			"BD": "Blood",
			"BM": "Bone Marrow",
			"BR": "Brain",
			"BS": "Breast",
			"HT": "Heart",
			"LI": "Large Intestine",
			"LK": "Kidney (Left)",
			"RK": "Kidney (Right)",
			"LL": "Lung (Left)",
			"RL": "Lung (Right)",
			"LN": "Lymph Node",
			"LV": "Liver",
			"MU": "Muscle",
			"OT": "Other",
			"PA": "Pancreas",
			"SI": "Small Intestine",
			"SK": "Skin",
			"SP": "Spleen",
			"TH": "Thymus",
		},
		sampleCategories: []string{"organ", "block", "section", "suspension"},
		sourceTypes:      []string{"Human", "Human Organoid", "Mouse", "Mouse Organoid"},
		datasetStatuses:  []string{"New", "Processing", "QA", "Published", "Error", "Hold", "Invalid", "Submitted", "Incomplete"},
	}
}

// OrganName resolves an organ code, case-insensitively.
func (o *StaticOntology) OrganName(code string) (string, bool) {
	name, ok := o.organs[strings.ToUpper(strings.TrimSpace(code))]
	return name, ok
}

// SampleCategories lists the accepted sample_category values.
func (o *StaticOntology) SampleCategories() []string { return o.sampleCategories }

// SourceTypes lists the accepted source_type values.
func (o *StaticOntology) SourceTypes() []string { return o.sourceTypes }

// DatasetStatuses lists the accepted dataset status values.
func (o *StaticOntology) DatasetStatuses() []string { return o.datasetStatuses }
