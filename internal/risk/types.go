// Package risk statically classifies query text before execution.
//
// Classification is advisory: it gates nothing by itself. The assessment is
// shown to the human approver, who makes the actual go/no-go decision. The
// analyzer is a pure function over the content string and declared backend;
// identical input always yields an identical assessment.
package risk

import "encoding/json"

// Level is the ordinal danger classification of an operation.
type Level int

const (
	Safe Level = iota
	Low
	Medium
	High
	Critical
)

var levelNames = [...]string{"SAFE", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (l Level) String() string {
	if l < Safe || l > Critical {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// MarshalJSON renders the level as its name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses a level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range levelNames {
		if name == s {
			*l = Level(i)
			return nil
		}
	}
	*l = Medium
	return nil
}

// Category groups detected operations by their effect.
type Category string

const (
	CategoryRead    Category = "read"
	CategoryWrite   Category = "write"
	CategoryDelete  Category = "delete"
	CategoryDDL     Category = "ddl"
	CategoryIndex   Category = "index"
	CategoryAdmin   Category = "admin"
	CategoryUnknown Category = "unknown"
)

// Operation is a single detected operation within a submission.
type Operation struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Risk     Level    `json:"risk"`
	Detail   string   `json:"detail,omitempty"`
}

// UnclassifiedName names the explicit matched-nothing operation. Content the
// rule tables cannot place still reaches the approver as MEDIUM risk rather
// than erroring out.
const UnclassifiedName = "UNCLASSIFIED"

// Unclassified returns the operation recorded when no rule matches.
func Unclassified(detail string) Operation {
	return Operation{Name: UnclassifiedName, Category: CategoryUnknown, Risk: Medium, Detail: detail}
}

// Warning is a cross-cutting observation appended independently of the
// primary classification.
type Warning struct {
	Severity Level  `json:"severity"`
	Message  string `json:"message"`
}

// Assessment is the immutable result of analyzing one content string.
type Assessment struct {
	Overall         Level       `json:"overallRisk"`
	Operations      []Operation `json:"operations"`
	Warnings        []Warning   `json:"warnings"`
	Recommendations []string    `json:"recommendations"`
}
