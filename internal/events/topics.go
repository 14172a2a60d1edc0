package events

const (
	TopicConnStatus    = "conn.status"
	TopicChannelStatus = "pv.status"
	TopicSample        = "pv.sample"
	TopicMismatch      = "pv.mismatch"
	TopicRawFrameIn    = "raw.frame.in"
	TopicRawFrameOut   = "raw.frame.out"
	TopicUpdateCheck   = "app.update"
)
