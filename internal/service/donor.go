package service

import (
	"context"
	"errors"
	"strings"

	"liveblood/internal/geo"
	"liveblood/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DonorService 管理献血者档案：按用户 upsert、列表、按城市查询以及实时坐标写入。
type DonorService struct {
	db *gorm.DB
}

func NewDonorService(db *gorm.DB) *DonorService {
	return &DonorService{db: db}
}

// DonorDTO 是对外输出的档案数据。
type DonorDTO struct {
	ID         uint     `json:"id"`
	UserID     uint     `json:"user_id"`
	Username   string   `json:"username,omitempty"`
	FullName   string   `json:"full_name"`
	Age        int      `json:"age"`
	Gender     string   `json:"gender"`
	BloodGroup string   `json:"blood_group"`
	Phone      string   `json:"phone"`
	City       string   `json:"city"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Available  bool     `json:"available"`
}

func toDonorDTO(d models.Donor) DonorDTO {
	return DonorDTO{
		ID:         d.ID,
		UserID:     d.UserID,
		FullName:   d.FullName,
		Age:        d.Age,
		Gender:     d.Gender,
		BloodGroup: d.BloodGroup,
		Phone:      d.Phone,
		City:       d.City,
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		Available:  d.Available,
	}
}

type ProfileInput struct {
	FullName   string   `json:"full_name"`
	Age        int      `json:"age"`
	Gender     string   `json:"gender"`
	BloodGroup string   `json:"blood_group"`
	Phone      string   `json:"phone_number"`
	City       string   `json:"city"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Available  bool     `json:"available"`
}

func (in *ProfileInput) validate() error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.City = strings.TrimSpace(in.City)
	in.Phone = strings.TrimSpace(in.Phone)
	verr := &ValidationError{}
	if in.FullName == "" {
		verr.add("full name is required")
	}
	if bg, ok := models.ParseBloodGroup(in.BloodGroup); ok {
		in.BloodGroup = bg
	} else {
		verr.add("blood group is invalid")
	}
	if in.Age < 0 || in.Age > 120 {
		verr.add("age is invalid")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		verr.add("latitude and longitude must be given together")
	} else if in.Latitude != nil && !(geo.Point{Lat: *in.Latitude, Lng: *in.Longitude}).Valid() {
		verr.add("location is out of range")
	}
	return verr.orNil()
}

// Get 返回用户的档案，不存在时返回 ErrProfileNotFound。
func (s *DonorService) Get(ctx context.Context, userID uint) (*DonorDTO, error) {
	var donor models.Donor
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&donor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	dto := toDonorDTO(donor)
	return &dto, nil
}

// Upsert 首次提交时插入，之后按 user_id 原地更新。
// 表单未带坐标时保留已存坐标，避免覆盖实时定位写入的位置。
func (s *DonorService) Upsert(ctx context.Context, userID uint, in ProfileInput) (*DonorDTO, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	donor := models.Donor{
		UserID:     userID,
		FullName:   in.FullName,
		Age:        in.Age,
		Gender:     in.Gender,
		BloodGroup: in.BloodGroup,
		Phone:      in.Phone,
		City:       in.City,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Available:  in.Available,
	}
	cols := []string{"full_name", "age", "gender", "blood_group", "phone", "city", "available", "updated_at"}
	if in.Latitude != nil {
		cols = append(cols, "latitude", "longitude")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&donor).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// List 返回全部档案并附带用户名。
func (s *DonorService) List(ctx context.Context) ([]DonorDTO, error) {
	type row struct {
		models.Donor
		Username string
	}
	var rows []row
	err := s.db.WithContext(ctx).Table("donors").
		Select("donors.*, users.username").
		Joins("JOIN users ON users.id = donors.user_id").
		Order("donors.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]DonorDTO, 0, len(rows))
	for _, r := range rows {
		dto := toDonorDTO(r.Donor)
		dto.Username = r.Username
		out = append(out, dto)
	}
	return out, nil
}

// Lookup 按血型与城市（忽略大小写）查找可献血的档案。
func (s *DonorService) Lookup(ctx context.Context, bloodGroup, city string) ([]DonorDTO, error) {
	bg, ok := models.ParseBloodGroup(bloodGroup)
	city = strings.TrimSpace(city)
	if !ok || city == "" {
		return nil, ErrMissingSearchParams
	}
	var donors []models.Donor
	err := s.db.WithContext(ctx).
		Where("blood_group = ? AND LOWER(city) = LOWER(?) AND available = ?", bg, city, true).
		Order("id").
		Find(&donors).Error
	if err != nil {
		return nil, err
	}
	out := make([]DonorDTO, 0, len(donors))
	for _, d := range donors {
		out = append(out, toDonorDTO(d))
	}
	return out, nil
}

// UpdateLocation 无条件覆盖档案坐标，后写者胜。
// 用户尚无档案时不会新建，影响行数为 0 也不算错误。
func (s *DonorService) UpdateLocation(ctx context.Context, userID uint, p geo.Point) error {
	return s.db.WithContext(ctx).Model(&models.Donor{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"latitude": p.Lat, "longitude": p.Lng}).Error
}
