package store

import (
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/prediction"
)

// Record is one completed prediction.
type Record struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ImageName      string    `gorm:"column:image_name;not null" json:"image_name"`
	TopClassName   string    `gorm:"column:top_class_name;not null;index" json:"top_class_name"`
	TopConfidence  float64   `gorm:"column:top_confidence;not null" json:"top_confidence"`
	ProcessingTime float64   `gorm:"column:processing_time" json:"processing_time"` // seconds
	Source         string    `gorm:"column:source" json:"source"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	Details        []Detail  `gorm:"foreignKey:PredictionLogID" json:"details,omitempty"`
}

func (Record) TableName() string { return "prediction_logs" }

// Detail is one ranked class of a Record.
type Detail struct {
	ID                uint    `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	PredictionLogID   uint    `gorm:"column:prediction_log_id;not null;index" json:"prediction_log_id"`
	Rank              int     `gorm:"column:rank;not null" json:"rank"`
	ClassName         string  `gorm:"column:class_name;not null" json:"class_name"`
	Confidence        float64 `gorm:"column:confidence;not null" json:"confidence"`
	ConfidencePercent float64 `gorm:"column:confidence_percent;not null" json:"confidence_percent"`
}

func (Detail) TableName() string { return "prediction_details" }

// NewRecord is the input of Store.Record. Predictions are in rank order.
type NewRecord struct {
	ImageName      string
	Source         string
	ProcessingTime time.Duration
	Predictions    []prediction.Entry
}

// FromResult captures the top k classes of r. k <= 0 keeps the detailed top five.
func FromResult(r *prediction.Result, source string, k int) NewRecord {
	if k <= 0 {
		k = prediction.TopKDetailed
	}
	top := r.Ranking.Head(k)
	preds := make([]prediction.Entry, len(top))
	copy(preds, top)
	return NewRecord{
		ImageName:      r.ImageName,
		Source:         source,
		ProcessingTime: r.ProcessingTime,
		Predictions:    preds,
	}
}

// ClassCount is one row of Stats.TopClasses.
type ClassCount struct {
	Class string `json:"class"`
	Count int64  `json:"count"`
}

// Stats aggregates the full history.
type Stats struct {
	TotalCount int64        `json:"total_predictions"`
	TopClasses []ClassCount `json:"top_5_classes"`
	// AverageProcessingTime is in seconds, nil when the history is empty.
	AverageProcessingTime *float64 `json:"average_processing_time"`
}
