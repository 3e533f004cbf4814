package pipeline

import (
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

const (
	topicRecordLimit = 5
	topicCharLimit   = 500
)

// AggregateTopics joins the descriptions of the earliest frames into a
// short summary, truncated to 500 characters plus an ellipsis.
func AggregateTopics(records []models.SummaryRecord) string {
	if len(records) == 0 {
		return ""
	}

	ordered := make([]models.SummaryRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FrameNumber < ordered[j].FrameNumber
	})

	if len(ordered) > topicRecordLimit {
		ordered = ordered[:topicRecordLimit]
	}

	parts := make([]string, len(ordered))
	for i, r := range ordered {
		parts[i] = r.Description
	}
	combined := strings.Join(parts, " ")

	runes := []rune(combined)
	if len(runes) > topicCharLimit {
		return string(runes[:topicCharLimit]) + "..."
	}
	return combined
}
