// Package events defines the wire-level event and command vocabulary
// exchanged with the UI layer (§6 External Interfaces).
package events

// Status is the dictation session status reported via the
// transcription-status event.
type Status string

const (
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusIdle       Status = "idle"
	StatusError      Status = "error"
)

// CommandName enumerates the commands the UI layer may send.
type CommandName string

const (
	CmdStartRecording    CommandName = "start_recording"
	CmdStopRecording     CommandName = "stop_recording"
	CmdListInputDevices  CommandName = "list_input_devices"
	CmdSetInputDevice    CommandName = "set_input_device"
	CmdListModels        CommandName = "list_models"
	CmdDownloadModel     CommandName = "download_model"
	CmdGetActiveModel    CommandName = "get_active_model"
	CmdSetActiveModel    CommandName = "set_active_model"
	CmdDeleteModel       CommandName = "delete_model"
	CmdGetSettings       CommandName = "get_settings"
	CmdSetShortcuts      CommandName = "set_shortcuts"
	CmdGetAnalyticsStats CommandName = "get_analytics_stats"
)

// Command is one inbound request from the UI layer. Only the fields
// relevant to Name are populated.
type Command struct {
	Name              CommandName
	DeviceID          string
	ModelName         string
	PushToTalk        string
	HandsFreeToggle   string
	CommandModeToggle string
}
