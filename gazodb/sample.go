package gazodb

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sampler chooses the next image to post.
//
// Eligible images are those with an approved decision. Images never posted before always win,
// chosen uniformly. Otherwise images last posted more than minInterval ago are drawn with
// probability proportional to the time since their last posting. Anything posted more recently
// sits out the round.
type Sampler struct {
	db  *gorm.DB
	cfg *config
}

func NewSampler(db *gorm.DB, opts ...Option) *Sampler {
	return newSampler(db, newConfig("gazodb", opts))
}

func newSampler(db *gorm.DB, cfg *config) *Sampler {
	return &Sampler{db: db, cfg: cfg}
}

type staleImage struct {
	imageID uint
	// seconds since the latest posting
	age float64
}

// Sample selects an image and appends its posting to the history in the same transaction, so
// concurrent callers cannot pick the same image off a stale read. A minInterval of zero or less
// makes every previously posted image stale.
func (s *Sampler) Sample(ctx context.Context, minInterval time.Duration) (*Image, error) {
	s.cfg.logger.Info("sampling an image", "min_interval", minInterval)

	var chosen Image
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.cfg.now()

		var eligible []uint
		if err := tx.Model(&ModerationDecision{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("approved = ? AND image_id IN (?)", true, tx.Model(&Image{}).Select("id")).
			Order("image_id ASC").
			Pluck("image_id", &eligible).Error; err != nil {
			return err
		}
		if len(eligible) == 0 {
			return ErrNoEligibleImage
		}

		var entries []PostHistoryEntry
		if err := tx.Where("image_id IN ?", eligible).Find(&entries).Error; err != nil {
			return err
		}
		latest := make(map[uint]time.Time, len(entries))
		for _, e := range entries {
			if prev, ok := latest[e.ImageID]; !ok || e.PostedAt.After(prev) {
				latest[e.ImageID] = e.PostedAt
			}
		}

		never, stale := partition(eligible, latest, now, minInterval)
		id, ok := choose(never, stale, s.cfg.rng)
		if !ok {
			return ErrNoEligibleImage
		}

		if err := tx.Create(&PostHistoryEntry{ImageID: id, PostedAt: now.UTC()}).Error; err != nil {
			return err
		}
		return tx.First(&chosen, id).Error
	})
	if err != nil {
		return nil, wrapStorage("sample", err)
	}
	s.cfg.logger.Info("sampled image", "image", chosen.ID, "filename", chosen.Filename)
	return &chosen, nil
}

// partition splits eligible images into never-posted ones and stale ones; the rest are dropped.
func partition(eligible []uint, latest map[uint]time.Time, now time.Time, minInterval time.Duration) ([]uint, []staleImage) {
	var never []uint
	var stale []staleImage
	for _, id := range eligible {
		last, posted := latest[id]
		if !posted {
			never = append(never, id)
			continue
		}
		age := now.Sub(last)
		if age < 0 {
			// clock skew between processes
			age = 0
		}
		if minInterval <= 0 || age > minInterval {
			stale = append(stale, staleImage{imageID: id, age: age.Seconds()})
		}
	}
	return never, stale
}

type randSource interface {
	IntN(n int) int
	Float64() float64
}

func choose(never []uint, stale []staleImage, rng randSource) (uint, bool) {
	if len(never) > 0 {
		return never[rng.IntN(len(never))], true
	}
	if len(stale) > 0 {
		return pickByAge(stale, rng), true
	}
	return 0, false
}

// pickByAge draws from a cumulative weight table where each weight is the image's age. When all
// ages are equal, including the all-zero case, the draw is uniform.
func pickByAge(stale []staleImage, rng randSource) uint {
	cumulative := make([]float64, len(stale))
	var total float64
	equal := true
	for i, c := range stale {
		total += c.age
		cumulative[i] = total
		if c.age != stale[0].age {
			equal = false
		}
	}
	if equal || total <= 0 {
		return stale[rng.IntN(len(stale))].imageID
	}

	x := rng.Float64() * total
	i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > x })
	if i == len(cumulative) {
		// float rounding at the upper edge
		i = len(cumulative) - 1
	}
	return stale[i].imageID
}
