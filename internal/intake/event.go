package intake

// Hook event names, per the coding assistant's hook contract.
const (
	hookSessionStart     = "SessionStart"
	hookUserPromptSubmit = "UserPromptSubmit"
	hookPreToolUse       = "PreToolUse"
	hookPostToolUse      = "PostToolUse"
	hookStop             = "Stop"
	hookSessionEnd       = "SessionEnd"
	hookNotification     = "Notification"
)

const (
	notificationPermissionPrompt = "permission_prompt"
	notificationIdlePrompt       = "idle_prompt"
)

// hookEvent is the envelope forwarded by the thin hook client, deliberately
// permissive: unknown/absent fields are simply ignored rather than
// rejected, since the CLI's hook payloads vary by hook type.
type hookEvent struct {
	SessionID        string `json:"session_id"`
	TranscriptPath   string `json:"transcript_path"`
	Cwd              string `json:"cwd"`
	HookEventName    string `json:"hook_event_name"`
	Prompt           string `json:"prompt"`
	NotificationType string `json:"notification_type"`
}
