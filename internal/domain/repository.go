package domain

type ProfileRepository interface {
	SaveProfile(p *Profile) error
	GetProfile(name string) (*Profile, error)
	ListProfiles() ([]Profile, error)
	DeleteProfile(name string) error
	ActiveProfile() (*Profile, error)
	SetActiveProfile(name string) error
}

type RecentRepository interface {
	TouchRecent(r *RecentServer) error
	ListRecent(limit int) ([]RecentServer, error)
	ForgetRecent(profileName string) error
}

type SettingRepository interface {
	GetSetting(key string) (string, error)
	SetSetting(key string, value string) error
}

type Repository interface {
	ProfileRepository
	RecentRepository
	SettingRepository
	Close() error
}
