package notify

import (
	"tg-crm/internal/broadcast"
	"tg-crm/internal/locales"

	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// Format renders the operator summary of a run.
func Format(localizer *i18n.Localizer, s *broadcast.Summary) string {
	text := locales.GetMessage(localizer, locales.MsgBroadcastSummary, map[string]interface{}{
		"ID":     s.BroadcastID.Hex(),
		"Sent":   s.Sent,
		"Failed": s.Failed,
		"Total":  s.Total,
	})
	if s.Comment != "" {
		text += "\n" + locales.GetMessage(localizer, locales.MsgBroadcastSummaryComment, map[string]interface{}{
			"Comment": s.Comment,
		})
	}
	return text
}
