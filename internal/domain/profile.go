package domain

import "time"

// Profile is a saved panel connection.
type Profile struct {
	Name      string    `json:"name"`
	PanelURL  string    `json:"panelUrl"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecentServer records a server console opened through a profile.
type RecentServer struct {
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	ProfileName string    `json:"profile"`
	LastOpened  time.Time `json:"lastOpened"`
}
