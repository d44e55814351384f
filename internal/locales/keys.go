package locales

// Message IDs present in every embedded message file.
const (
	MsgBroadcastSummary        = "MsgBroadcastSummary"
	MsgBroadcastSummaryComment = "MsgBroadcastSummaryComment"
	MsgBroadcastAlreadyRunning = "MsgBroadcastAlreadyRunning"
	MsgBroadcastQueued         = "MsgBroadcastQueued"
	MsgBroadcastNotFound       = "MsgBroadcastNotFound"
	MsgInvalidButtons          = "MsgInvalidButtons"
	MsgMediaMissing            = "MsgMediaMissing"
	MsgInvalidBroadcastID      = "MsgInvalidBroadcastID"
	MsgErrorGeneral            = "MsgErrorGeneral"
	MsgWelcome                 = "MsgWelcome"
	MsgInvalidRequest          = "MsgInvalidRequest"
	MsgEmptyBroadcast          = "MsgEmptyBroadcast"
	MsgMediaOutsideRoot        = "MsgMediaOutsideRoot"
)
