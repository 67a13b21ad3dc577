package technician

import (
	"context"
	"errors"
	"time"

	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository reads technician rows and performs the few conditional writes
// dispatch owns on them.
type Repository struct {
	db      *gorm.DB
	profile repository.Repository[Profile]
	kyc     repository.Repository[KYC]
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:      db,
		profile: repository.ProvideStore[Profile](db),
		kyc:     repository.ProvideStore[KYC](db),
	}
}

// FindByID loads a profile with skills and KYC. It returns nil, nil when the
// technician does not exist.
func (r *Repository) FindByID(ctx context.Context, id snowflake.ID) (*Profile, error) {
	var p Profile
	err := r.db.WithContext(ctx).
		Preload("Skills").
		Preload("KYC").
		Where("id = ?", id).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) FindKYC(ctx context.Context, technicianID snowflake.ID) (*KYC, error) {
	return r.kyc.FindOne(ctx, &KYC{TechnicianID: technicianID})
}

// UpdateLocation stores the point and marks the technician online.
func (r *Repository) UpdateLocation(ctx context.Context, id snowflake.ID, p geo.Point, now time.Time) error {
	return r.profile.Update(ctx, id, map[string]any{
		"latitude":         p.Lat,
		"longitude":        p.Lng,
		"has_location":     true,
		"is_online":        true,
		"last_location_at": now,
	})
}

func (r *Repository) SetOnline(ctx context.Context, id snowflake.ID, online bool) error {
	return r.profile.Update(ctx, id, map[string]any{"is_online": online})
}

// StampMatching sets last_matching_at to now unless a previous stamp is newer
// than window. It reports whether this caller won the stamp.
func (r *Repository) StampMatching(ctx context.Context, id snowflake.ID, now time.Time, window time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ?", id).
		Where("(last_matching_at IS NULL OR last_matching_at <= ?)", now.Add(-window)).
		Update("last_matching_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReplaceSkills swaps the technician's skill set atomically.
func (r *Repository) ReplaceSkills(ctx context.Context, id snowflake.ID, skills []Skill) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("technician_id = ?", id).Delete(&Skill{}).Error; err != nil {
			return err
		}
		if len(skills) == 0 {
			return nil
		}
		for i := range skills {
			skills[i].TechnicianID = id
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&skills).Error
	})
}
