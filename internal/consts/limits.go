package consts

const (
	// DiscordMaxLength is the webhook content limit per message.
	DiscordMaxLength = 2000

	// TelegramBodyMax is the message text limit.
	TelegramBodyMax = 4096
	// TelegramCaptionMax is the media caption limit; bodies longer than this
	// are delivered as captionless media followed by chunked text.
	TelegramCaptionMax = 1024

	// AttachmentReadCap is the maximum size of a text attachment that is read
	// for keyword search. Larger files are skipped entirely.
	AttachmentReadCap = 5 * 1024 * 1024

	// ReplyTextMax bounds the reply-context excerpt.
	ReplyTextMax = 200
	// SummaryMax bounds feed entry summaries.
	SummaryMax = 1000
)
