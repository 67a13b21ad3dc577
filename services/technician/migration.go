package technician

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// legacySkill accepts the shapes older profiles stored skills in: a bare
// service id (string or number) or an object with serviceId.
type legacySkill struct {
	ServiceID       snowflake.ID
	ExperienceYears int
}

func (l *legacySkill) UnmarshalJSON(b []byte) error {
	// numbers stay json.Number so snowflake-sized ids keep every digit
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string, json.Number:
		id, err := ParseServiceRef(v)
		if err != nil {
			return err
		}
		l.ServiceID = id
	case map[string]any:
		ref, ok := v["serviceId"]
		if !ok {
			ref = v["service_id"]
		}
		id, err := ParseServiceRef(ref)
		if err != nil {
			return err
		}
		l.ServiceID = id
		if exp, ok := v["experienceYears"].(json.Number); ok {
			if years, err := exp.Int64(); err == nil {
				l.ExperienceYears = int(years)
			}
		}
	default:
		return fmt.Errorf("unsupported skill entry %s", string(b))
	}
	return nil
}

// ParseServiceRef normalizes a service reference into a snowflake id.
func ParseServiceRef(ref any) (snowflake.ID, error) {
	switch v := ref.(type) {
	case snowflake.ID:
		return v, nil
	case int64:
		return snowflake.ID(v), nil
	case json.Number:
		id, err := v.Int64()
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid service reference %s", v)
		}
		return snowflake.ID(id), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid service reference %q", v)
		}
		return snowflake.ID(id), nil
	default:
		return 0, fmt.Errorf("invalid service reference %v", ref)
	}
}

// MigrateLegacySkills moves skills stored in technician_profiles.legacy_skills
// into technician_skills and clears the legacy column. It is safe to rerun.
func MigrateLegacySkills(ctx context.Context, db *gorm.DB) (int, error) {
	var profiles []Profile
	if err := db.WithContext(ctx).
		Select("id", "legacy_skills").
		Where("legacy_skills IS NOT NULL").
		Find(&profiles).Error; err != nil {
		return 0, err
	}

	migrated := 0
	for _, p := range profiles {
		if len(p.LegacySkills) == 0 || string(p.LegacySkills) == "null" {
			continue
		}

		var entries []json.RawMessage
		if err := json.Unmarshal(p.LegacySkills, &entries); err != nil {
			zap.L().Warn("skipping unreadable legacy skills", zap.String("technician_id", p.ID.String()), zap.Error(err))
			continue
		}

		skills := make([]Skill, 0, len(entries))
		for _, raw := range entries {
			var ls legacySkill
			if err := json.Unmarshal(raw, &ls); err != nil {
				zap.L().Warn("dropping legacy skill", zap.String("technician_id", p.ID.String()), zap.ByteString("entry", raw), zap.Error(err))
				continue
			}
			skills = append(skills, Skill{TechnicianID: p.ID, ServiceID: ls.ServiceID, ExperienceYears: ls.ExperienceYears})
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if len(skills) > 0 {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&skills).Error; err != nil {
					return err
				}
			}
			return tx.Model(&Profile{}).Where("id = ?", p.ID).Update("legacy_skills", gorm.Expr("NULL")).Error
		})
		if err != nil {
			return migrated, fmt.Errorf("migrate skills of technician %s: %w", p.ID, err)
		}
		migrated++
	}

	zap.L().Info("legacy skills migrated", zap.Int("technicians", migrated))
	return migrated, nil
}
