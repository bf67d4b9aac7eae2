package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"liveblood/internal/geo"
	"liveblood/internal/models"

	"gorm.io/gorm"
)

// SearchQuery 是校验过的邻近检索条件。
type SearchQuery struct {
	BloodGroup string
	RadiusKm   float64
	Origin     geo.Point
}

// DonorMatch 是检索命中的档案及其与原点的距离（公里，未取整）。
type DonorMatch struct {
	DonorDTO
	Distance float64 `json:"distance"`
}

// ParseSearchQuery 解析来自查询串的原始参数，任何缺失或非法都返回 ErrMissingSearchParams。
func ParseSearchQuery(bloodGroup, radius, latitude, longitude string) (SearchQuery, error) {
	var q SearchQuery
	bg, ok := models.ParseBloodGroup(bloodGroup)
	if !ok {
		return q, ErrMissingSearchParams
	}
	r, err := parseFinite(radius)
	if err != nil || r <= 0 {
		return q, ErrMissingSearchParams
	}
	lat, err := parseFinite(latitude)
	if err != nil {
		return q, ErrMissingSearchParams
	}
	lng, err := parseFinite(longitude)
	if err != nil {
		return q, ErrMissingSearchParams
	}
	origin := geo.Point{Lat: lat, Lng: lng}
	if !origin.Valid() {
		return q, ErrMissingSearchParams
	}
	return SearchQuery{BloodGroup: bg, RadiusKm: r, Origin: origin}, nil
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return f, nil
}

// SearchService 实现按血型与半径的邻近检索。
type SearchService struct {
	db *gorm.DB
}

func NewSearchService(db *gorm.DB) *SearchService {
	return &SearchService{db: db}
}

// Search 读出该血型的全部档案，在内存中计算 haversine 距离后过滤并排序。
// 读库失败时返回空结果与 ErrSearchUnavailable。
func (s *SearchService) Search(ctx context.Context, q SearchQuery) ([]DonorMatch, error) {
	var donors []models.Donor
	if err := s.db.WithContext(ctx).Where("blood_group = ?", q.BloodGroup).Order("id").Find(&donors).Error; err != nil {
		return []DonorMatch{}, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	return RankDonors(donors, q), nil
}

// RankDonors 丢弃无坐标、血型不符或超出半径的档案，其余按距离升序稳定排序。
func RankDonors(donors []models.Donor, q SearchQuery) []DonorMatch {
	out := make([]DonorMatch, 0, len(donors))
	for _, d := range donors {
		if !d.HasLocation() || d.BloodGroup != q.BloodGroup {
			continue
		}
		dist := geo.Distance(q.Origin, geo.Point{Lat: *d.Latitude, Lng: *d.Longitude})
		if dist > q.RadiusKm {
			continue
		}
		out = append(out, DonorMatch{DonorDTO: toDonorDTO(d), Distance: dist})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
