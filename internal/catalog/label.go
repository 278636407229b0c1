package catalog

import "strings"

const (
	// Separator splits a class label into plant and condition.
	Separator = "___"
	// UnknownCondition is used when a label has no separator.
	UnknownCondition = "Unknown"
	// HealthyName is the display disease name of healthy classes.
	HealthyName = "Healthy"
)

// Label is a class label split into its display fields.
type Label struct {
	Raw          string
	Plant        string // plant segment as written in the label
	Condition    string // condition segment as written, or "Unknown"
	HasSeparator bool
	PlantName    string
	DiseaseName  string
	IsHealthy    bool
}

// ParseLabel splits "<Plant>___<Condition>" once. Without a separator the
// whole string is the plant and the condition is "Unknown".
func ParseLabel(raw string) Label {
	l := Label{Raw: raw}

	plant, condition, found := strings.Cut(raw, Separator)
	if !found {
		plant, condition = raw, UnknownCondition
	}
	l.Plant = plant
	l.Condition = condition
	l.HasSeparator = found

	l.IsHealthy = strings.Contains(strings.ToLower(condition), "healthy")
	if l.IsHealthy {
		l.DiseaseName = HealthyName
	} else {
		l.DiseaseName = condition
	}

	l.PlantName = strings.ReplaceAll(strings.ReplaceAll(plant, "_(", " ("), "_", " ")
	return l
}
