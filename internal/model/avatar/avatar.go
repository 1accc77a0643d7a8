package avatar

// Avatar captures the streaming avatar attributes exposed to the frontend.
type Avatar struct {
	ID           string `json:"avatarId"`
	PoseName     string `json:"poseName"`
	DefaultVoice string `json:"defaultVoice,omitempty"`
	PreviewURL   string `json:"previewUrl,omitempty"`
	Status       string `json:"status"`
	Public       bool   `json:"isPublic"`
	CreatedAt    int64  `json:"createdAt,omitempty"` // unix seconds, as reported by the vendor
}

// Seed 返回默认的固定数字人。
func Seed() []Avatar {
	return []Avatar{
		{
			ID:           "June_HR_public",
			PoseName:     "June HR",
			DefaultVoice: "68dedac41a9f46a6a4271a95c733823c",
			PreviewURL:   "https://files2.heygen.ai/avatar/v3/74447a27859a456c955e01f21ef18216_45620/preview_talk_1.webp",
			Status:       "ACTIVE",
			Public:       true,
			CreatedAt:    1732855106,
		},
	}
}
