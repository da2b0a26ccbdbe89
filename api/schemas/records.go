// api/schemas/records.go
package schemas

import "time"

// AvatarRecord is the user's stored avatar image and its upload metadata.
type AvatarRecord struct {
	Base64     string    `json:"base64"`
	FileName   string    `json:"fileName"`
	UploadDate time.Time `json:"uploadDate"`
	FileSize   int64     `json:"fileSize"`
}

// SettingsRecord holds the user-tunable feature toggles. The zero value
// is not a usable default; use DefaultSettings.
type SettingsRecord struct {
	AutoDetectEnabled      bool `json:"autoDetectEnabled"`
	ManualSelectionEnabled bool `json:"manualSelectionEnabled"`
	NotificationsEnabled   bool `json:"notificationsEnabled"`
}

// DefaultSettings returns the out-of-box settings: automatic detection
// on, manual selection off, notifications on.
func DefaultSettings() SettingsRecord {
	return SettingsRecord{
		AutoDetectEnabled:      true,
		ManualSelectionEnabled: false,
		NotificationsEnabled:   true,
	}
}

// RemoteConfig is the shared configuration fetched from the
// distribution endpoint at startup. Extra keys are preserved so a
// newer server can ship fields an older client ignores.
type RemoteConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// Initialized reports whether the config carries enough identity to
// authenticate outbound calls.
func (rc RemoteConfig) Initialized() bool {
	return rc.APIKey != "" && rc.ProjectID != ""
}

// TryOnRecord is one completed (or failed) try-on stored in history.
type TryOnRecord struct {
	ID          string    `json:"id"`
	ClothingURL string    `json:"clothingUrl"`
	PageURL     string    `json:"pageUrl"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
