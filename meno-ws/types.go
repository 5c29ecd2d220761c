package menows

const (
	RoleStudent  = "student"
	RoleTeacher  = "teacher"
	RoleObserver = "observer"
)

const (
	ClientWeb    = "web"
	ClientTablet = "tablet"
	ClientNative = "native"
)

const (
	StatusOnline       = "online"
	StatusTyping       = "typing"
	StatusSpeaking     = "speaking"
	StatusDisconnected = "disconnected"
	StatusMuted        = "muted"
)

const (
	TypingNone     = "none"
	TypingSingle   = "single"
	TypingMultiple = "multiple"
)

// Palette is the fixed set of participant colors, handed out first come first
// served within a session.
var Palette = []string{
	"#B47538",
	"#3A6B9C",
	"#7D4F8D",
	"#3B8F6B",
	"#B84E4E",
	"#CE8F2B",
	"#4A5F8A",
	"#6D7F39",
}

func validRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleObserver:
		return true
	}
	return false
}

func validClient(client string) bool {
	switch client {
	case ClientWeb, ClientTablet, ClientNative:
		return true
	}
	return false
}
