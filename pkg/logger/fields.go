package logger

const (
	FieldPlatform = "platform"
	FieldChatID   = "chat_id"
	FieldSenderID = "sender_id"
	FieldCommand  = "command"
	FieldNative   = "native"
	FieldError    = "error"
)
