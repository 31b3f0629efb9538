package storage

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"panelctl/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const activeProfileKey = "active_profile"

var ErrProfileNotFound = errors.New("profile not found")

type Profile struct {
	Name      string `gorm:"primaryKey"`
	PanelURL  string
	APIKey    string
	CreatedAt time.Time
}

type RecentServer struct {
	ProfileName string `gorm:"primaryKey"`
	Identifier  string `gorm:"primaryKey"`
	Name        string
	LastOpened  time.Time `gorm:"index"`
}

type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	newLogger := gormlogger.New(
		log.New(os.Stderr, "", log.LstdFlags),
		gormlogger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  gormlogger.Error,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&Profile{}, &RecentServer{}, &Setting{})
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveProfile creates or replaces the profile with p's name.
func (s *GormStore) SaveProfile(p *domain.Profile) error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return s.db.Save(&Profile{
		Name:      p.Name,
		PanelURL:  p.PanelURL,
		APIKey:    p.APIKey,
		CreatedAt: p.CreatedAt,
	}).Error
}

func (s *GormStore) GetProfile(name string) (*domain.Profile, error) {
	var gp Profile
	result := s.db.First(&gp, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return nil, fmt.Errorf("error querying profile: %w", result.Error)
	}
	return toDomainProfile(gp), nil
}

func (s *GormStore) ListProfiles() ([]domain.Profile, error) {
	var gormProfiles []Profile
	if err := s.db.Order("name").Find(&gormProfiles).Error; err != nil {
		return nil, err
	}

	profiles := make([]domain.Profile, 0, len(gormProfiles))
	for _, gp := range gormProfiles {
		profiles = append(profiles, *toDomainProfile(gp))
	}
	return profiles, nil
}

// DeleteProfile removes the profile and its recent servers, and clears
// it as the active profile.
func (s *GormStore) DeleteProfile(name string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Profile{}, "name = ?", name)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		if err := tx.Delete(&RecentServer{}, "profile_name = ?", name).Error; err != nil {
			return err
		}
		return tx.Delete(&Setting{}, "key = ? AND value = ?", activeProfileKey, name).Error
	})
}

// ActiveProfile returns the profile selected with SetActiveProfile, or
// nil when none is selected.
func (s *GormStore) ActiveProfile() (*domain.Profile, error) {
	name, err := s.GetSetting(activeProfileKey)
	if err != nil || name == "" {
		return nil, nil
	}
	p, err := s.GetProfile(name)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *GormStore) SetActiveProfile(name string) error {
	if _, err := s.GetProfile(name); err != nil {
		return err
	}
	return s.SetSetting(activeProfileKey, name)
}

func (s *GormStore) TouchRecent(r *domain.RecentServer) error {
	if r.LastOpened.IsZero() {
		r.LastOpened = time.Now()
	}
	return s.db.Save(&RecentServer{
		ProfileName: r.ProfileName,
		Identifier:  r.Identifier,
		Name:        r.Name,
		LastOpened:  r.LastOpened,
	}).Error
}

func (s *GormStore) ListRecent(limit int) ([]domain.RecentServer, error) {
	q := s.db.Order("last_opened DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []RecentServer
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	recent := make([]domain.RecentServer, 0, len(rows))
	for _, r := range rows {
		recent = append(recent, domain.RecentServer{
			Identifier:  r.Identifier,
			Name:        r.Name,
			ProfileName: r.ProfileName,
			LastOpened:  r.LastOpened,
		})
	}
	return recent, nil
}

func (s *GormStore) ForgetRecent(profileName string) error {
	return s.db.Delete(&RecentServer{}, "profile_name = ?", profileName).Error
}

func (s *GormStore) GetSetting(key string) (string, error) {
	var setting Setting
	result := s.db.First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("setting not found: %s", key)
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStore) SetSetting(key string, value string) error {
	return s.db.Save(&Setting{Key: key, Value: value}).Error
}

func toDomainProfile(gp Profile) *domain.Profile {
	return &domain.Profile{
		Name:      gp.Name,
		PanelURL:  gp.PanelURL,
		APIKey:    gp.APIKey,
		CreatedAt: gp.CreatedAt,
	}
}
