package types

// Inbound event names, exactly as the browser client emits them.
const (
	EventUserIsOnline            = "user_is_online"
	EventUserOnline              = "user_online"
	EventJoinClass               = "join_class"
	EventLeaveClassroom          = "leave_classroom"
	EventGetAllOnlineUsers       = "get_all_online_users"
	EventClassStreamingStarted   = "class_streaming_started"
	EventGetAllLiveClasses       = "get_all_live_classes"
	EventInitialiseClass         = "initialiseClass"
	EventStudentJoinClass        = "studentJoinClass"
	EventTeacherAddAnotherStream = "teacherAddAnotherStream"
	EventSignal                  = "signal"
	EventInitSend                = "initSend"
	EventSomeoneDrew             = "someone_drew"
	EventMessageSent             = "message_sent"
	EventSomeoneIsTyping         = "someoneIsTyping"
	EventNotTyping               = "notTyping"
	EventCodeEditorTyping        = "code_editor_typing"
	EventNewNotification         = "new_notification"
	EventJoinClassChat           = "JOIN_CLASS_CHAT"
	EventSendNewMessage          = "SEND_NEW_MESSAGE"
)

// Outbound event names. signal, initSend, code_editor_typing and
// new_notification keep their inbound names on the way out.
const (
	EventConnected        = "connected"
	EventClassActiveUsers = "class_active_users"
	EventClassHasStarted  = "class_has_started"
	EventAllLiveClasses   = "all_live_classes"
	EventInitReceive      = "initReceive"
	EventDrawingData      = "drawing_data"
	EventMessageReceived  = "message_received"
	EventTypingUsers      = "someone_is_typing"
	EventNewMessage       = "NEW_MESSAGE"
)

// NotificationResourceCreated is the only notification type with rendered content.
const NotificationResourceCreated = "RESOURCE_CREATED"
