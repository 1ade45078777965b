package gazodb

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"
)

// ImageStore persists image files and their metadata records.
type ImageStore struct {
	db    *gorm.DB
	blobs *BlobDir
	cfg   *config
}

func NewImageStore(db *gorm.DB, blobs *BlobDir, opts ...Option) *ImageStore {
	return newImageStore(db, blobs, newConfig("gazodb", opts))
}

func newImageStore(db *gorm.DB, blobs *BlobDir, cfg *config) *ImageStore {
	return &ImageStore{db: db, blobs: blobs, cfg: cfg}
}

// AddImage stores one attachment of a source post and returns the new image id. The blob is
// written before the metadata row, so a committed row never points at a missing file.
func (s *ImageStore) AddImage(ctx context.Context, sourceCID, sourceURI string, ordinal int, blob []byte) (uint, error) {
	s.cfg.logger.Info("adding image", "cid", sourceCID, "uri", sourceURI, "ordinal", ordinal, "size", len(blob))

	var phash *int64
	if h, err := PerceptualHash(blob); err != nil {
		s.cfg.logger.Debug("skipping perceptual hash", "uri", sourceURI, "err", err)
	} else {
		v := int64(h)
		phash = &v
	}

	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Image{}).
			Where("source_cid = ? AND source_uri = ? AND ordinal = ?", sourceCID, sourceURI, ordinal).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateImage
		}

		name, err := s.blobs.Put(blob)
		if err != nil {
			return &StorageError{Op: "write blob", Err: err}
		}

		img := Image{
			CreatedAt: s.cfg.now().UTC(),
			SourceCID: sourceCID,
			SourceURI: sourceURI,
			Ordinal:   ordinal,
			Filename:  name,
			PHash:     phash,
		}
		if err := tx.Create(&img).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateImage
			}
			return err
		}
		id = img.ID
		return nil
	})
	if err != nil {
		return 0, wrapStorage("add image", err)
	}
	return id, nil
}

// AddImageFile imports a local file. The synthetic fileID stands in for both source identifiers.
func (s *ImageStore) AddImageFile(ctx context.Context, fileID string, path string) (uint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading image file: %w", err)
	}
	return s.AddImage(ctx, fileID, fileID, 0, data)
}

// IsAlreadyAdded reports whether any attachment of the source post has been stored.
func (s *ImageStore) IsAlreadyAdded(ctx context.Context, sourceCID, sourceURI string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Image{}).
		Where("source_cid = ? AND source_uri = ?", sourceCID, sourceURI).
		Count(&n).Error
	if err != nil {
		return false, wrapStorage("lookup image", err)
	}
	return n > 0, nil
}

func (s *ImageStore) Get(ctx context.Context, id uint) (*Image, error) {
	var img Image
	if err := s.db.WithContext(ctx).First(&img, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, wrapStorage("get image", err)
	}
	return &img, nil
}

// Path returns the file path of an image's blob.
func (s *ImageStore) Path(img *Image) string {
	return s.blobs.Path(img.Filename)
}

func (s *ImageStore) Blobs() *BlobDir {
	return s.blobs
}

// ListUnmoderated returns every image without a moderation decision, oldest first.
func (s *ImageStore) ListUnmoderated(ctx context.Context) ([]Image, error) {
	tx := s.db.WithContext(ctx)
	var imgs []Image
	err := tx.Where("id NOT IN (?)", tx.Model(&ModerationDecision{}).Select("image_id")).
		Order("id ASC").
		Find(&imgs).Error
	if err != nil {
		return nil, wrapStorage("list unmoderated", err)
	}
	return imgs, nil
}

// ListAll returns every image, oldest first, with its moderation decision when there is one.
func (s *ImageStore) ListAll(ctx context.Context) ([]ImageEntry, error) {
	tx := s.db.WithContext(ctx)
	var imgs []Image
	if err := tx.Order("id ASC").Find(&imgs).Error; err != nil {
		return nil, wrapStorage("list images", err)
	}
	var decisions []ModerationDecision
	if err := tx.Find(&decisions).Error; err != nil {
		return nil, wrapStorage("list decisions", err)
	}

	byImage := make(map[uint]*ModerationDecision, len(decisions))
	for i := range decisions {
		byImage[decisions[i].ImageID] = &decisions[i]
	}

	out := make([]ImageEntry, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, ImageEntry{Image: img, Decision: byImage[img.ID]})
	}
	return out, nil
}

// RandomApproved picks any approved image uniformly at random without recording a posting.
func (s *ImageStore) RandomApproved(ctx context.Context) (*Image, error) {
	tx := s.db.WithContext(ctx)
	var ids []uint
	err := tx.Model(&ModerationDecision{}).
		Where("approved = ? AND image_id IN (?)", true, tx.Model(&Image{}).Select("id")).
		Order("image_id ASC").
		Pluck("image_id", &ids).Error
	if err != nil {
		return nil, wrapStorage("list approved", err)
	}
	if len(ids) == 0 {
		return nil, ErrNoEligibleImage
	}
	return s.Get(ctx, ids[s.cfg.rng.IntN(len(ids))])
}

// FindSimilar returns images whose perceptual hash is within maxDistance bits of hash.
func (s *ImageStore) FindSimilar(ctx context.Context, hash uint64, maxDistance int) ([]Image, error) {
	var imgs []Image
	if err := s.db.WithContext(ctx).Where("phash IS NOT NULL").Order("id ASC").Find(&imgs).Error; err != nil {
		return nil, wrapStorage("find similar", err)
	}
	var out []Image
	for _, img := range imgs {
		h, ok := img.PerceptualHash()
		if ok && HammingDistance(h, hash) <= maxDistance {
			out = append(out, img)
		}
	}
	return out, nil
}
