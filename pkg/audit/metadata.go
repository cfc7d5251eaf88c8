package audit

import (
	"fmt"

	"github.com/medtrail-ai/medtrail/pkg/models"
	"github.com/medtrail-ai/medtrail/pkg/phi"
)

// allowedMetadataKeys is the closed key set each event type may carry.
// Keeping the set closed guarantees structurally that metadata can never
// smuggle a raw patient identifier under an ad-hoc key.
var allowedMetadataKeys = map[models.EventType]map[string]bool{
	models.EventAgentConversationStart: {
		"agents":       true,
		"task_summary": true,
	},
	models.EventAgentConversationEnd: {
		"message_count":      true,
		"termination_reason": true,
	},
	models.EventAgentMessageSent: {
		"content_length": true,
	},
	models.EventAgentMessageReceived: {
		"content_length": true,
	},
	models.EventPHIAccess: phiAccessKeys,
	models.EventPHICreate: phiAccessKeys,
	models.EventPHIUpdate: phiAccessKeys,
	models.EventPHIDelete: phiAccessKeys,
	models.EventPHIExport: phiAccessKeys,
	models.EventPHIQuery:  phiAccessKeys,
	models.EventClinicalRecommendation: {
		"recommendation_type": true,
		"confidence":          true,
	},
	models.EventPrognosisGenerated: {
		"trend":      true,
		"confidence": true,
	},
	models.EventReportGenerated: {
		"report_type": true,
	},
	models.EventDataValidationError: {
		"validation_type": true,
		"field":           true,
		"error":           true,
	},
}

var phiAccessKeys = map[string]bool{
	"access_type":     true,
	"fields_accessed": true,
	"access_reason":   true,
}

// validateMetadata rejects keys outside the event type's closed set and
// scrubs identifier patterns from string values. Returns a sanitized copy.
func validateMetadata(et models.EventType, md map[string]any) (map[string]any, error) {
	if len(md) == 0 {
		return nil, nil
	}
	allowed := allowedMetadataKeys[et]
	out := make(map[string]any, len(md))
	for k, v := range md {
		if !allowed[k] {
			return nil, fmt.Errorf("metadata key %q not allowed for event %s", k, et)
		}
		switch val := v.(type) {
		case string:
			out[k] = phi.Scrub(val)
		case []string:
			scrubbed := make([]string, len(val))
			for i, s := range val {
				scrubbed[i] = phi.Scrub(s)
			}
			out[k] = scrubbed
		default:
			out[k] = v
		}
	}
	return out, nil
}
