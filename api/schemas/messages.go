// api/schemas/messages.go
package schemas

import "encoding/json"

// Action identifies a message type on the content <-> broker channel.
// The wire names mirror the extension-era protocol so the broker endpoints
// and any external tooling stay compatible.
type Action string

const (
	// Request/response actions (content -> broker).
	ActionRequestVirtualTryOn Action = "REQUEST_VIRTUAL_TRY_ON"
	ActionFetchImage          Action = "FETCH_IMAGE"
	ActionCheckAuthStatus     Action = "CHECK_AUTH_STATUS"
	ActionCheckAvatar         Action = "CHECK_AVATAR"

	// Fire-and-forget UI mode commands (popup/options -> content).
	ActionEnableManualSelection  Action = "ENABLE_MANUAL_SELECTION"
	ActionDisableManualSelection Action = "DISABLE_MANUAL_SELECTION"
	ActionClearImageSelection    Action = "CLEAR_IMAGE_SELECTION"
	ActionReloadSettings         Action = "RELOAD_SETTINGS"

	// Informational notification (content -> popup).
	ActionImageSelected Action = "IMAGE_SELECTED"
)

// Message is the envelope carried over the messaging bus.
type Message struct {
	ID      string          `json:"id"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TryOnRequest carries both encoded images to the broker.
// ClothingURL is diagnostic only; the synthesis service works on pixels.
type TryOnRequest struct {
	AvatarImageBase64   string `json:"avatarImageBase64"`
	ClothingImageBase64 string `json:"clothingImageBase64"`
	ClothingURL         string `json:"clothingUrl,omitempty"`
}

// TryOnReply is the broker's answer to REQUEST_VIRTUAL_TRY_ON.
// StatusCode carries the upstream HTTP status so the relay can map
// failures to user-facing messages without re-parsing error strings.
type TryOnReply struct {
	Success          bool   `json:"success"`
	TryOnImageBase64 string `json:"tryOnImageBase64,omitempty"`
	Error            string `json:"error,omitempty"`
	RequiresAuth     bool   `json:"requiresAuth,omitempty"`
	StatusCode       int    `json:"statusCode,omitempty"`
}

// FetchImageRequest asks the broker to fetch an image out-of-band,
// bypassing page-level CORS restrictions.
type FetchImageRequest struct {
	ImageURL string `json:"imageUrl"`
}

// FetchImageReply returns the fetched image as a data URL.
type FetchImageReply struct {
	Success bool   `json:"success"`
	Base64  string `json:"base64,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuthStatusReply reports whether the broker holds an initialized
// shared configuration (credential bootstrap succeeded).
type AuthStatusReply struct {
	Success             bool `json:"success"`
	FirebaseInitialized bool `json:"firebaseInitialized,omitempty"`
}

// CheckAvatarRequest submits a candidate avatar (data URL) for the
// on-device safety screen.
type CheckAvatarRequest struct {
	ImageData string `json:"imageData"`
}

// CheckAvatarReply is the safety screen verdict. When the classifier
// reply was unreadable, Success is false and Message explains why;
// IsSafe is only meaningful when Success is true.
type CheckAvatarReply struct {
	Success bool   `json:"success"`
	IsSafe  bool   `json:"isSafe,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// ImageSelected notifies the UI collaborator of a manual-mode pick.
type ImageSelected struct {
	Src        string     `json:"src"`
	Alt        string     `json:"alt"`
	Domain     string     `json:"domain"`
	Dimensions Dimensions `json:"dimensions"`
}

// Dimensions is a width/height pair in CSS pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
