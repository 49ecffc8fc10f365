package model

import (
	"strings"
	"time"
)

const (
	// DefaultFallbackImage отображается, если у записи нет изображения
	DefaultFallbackImage = "/pathway/soc.png"
	// DefaultHref: якорь по умолчанию для записи без ссылки
	DefaultHref = "#careers"
	// ListingCategory: фиксированная категория карточки
	ListingCategory = "Opportunity"

	publicObjectPath = "/storage/v1/object/public/"
)

// ListingItem: проекция Opportunity для отображения в публичном списке
type ListingItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	ImageURL string `json:"imageUrl"`
	Href     string `json:"href"`
	Date     string `json:"date"`
	Category string `json:"category"`
	CTA      string `json:"cta"`
}

// ImageResolver превращает путь в бакете в публичный URL
type ImageResolver struct {
	BaseURL  string
	Bucket   string
	Fallback string
}

// PublicURL собирает {base}/storage/v1/object/public/{bucket}/{path}
func PublicURL(base, bucket, path string) string {
	return strings.TrimSuffix(base, "/") + publicObjectPath + bucket + "/" + strings.TrimPrefix(path, "/")
}

// IsAbsoluteRef сообщает, начинается ли значение со схемы (http:, https:, blob:, data: ...)
func IsAbsoluteRef(ref string) bool {
	i := strings.IndexByte(ref, ':')
	if i <= 0 {
		return false
	}
	for j := 0; j < i; j++ {
		c := ref[j]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// Preview возвращает URL изображения для админки; ok=false, если изображения нет
func (r ImageResolver) Preview(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if IsAbsoluteRef(path) {
		return path, true
	}
	return PublicURL(r.BaseURL, r.Bucket, path), true
}

// Resolve возвращает URL изображения, подставляя запасное изображение для пустого пути
func (r ImageResolver) Resolve(path *string) string {
	if path == nil {
		return r.fallback()
	}
	if u, ok := r.Preview(*path); ok {
		return u
	}
	return r.fallback()
}

func (r ImageResolver) fallback() string {
	if r.Fallback == "" {
		return DefaultFallbackImage
	}
	return r.Fallback
}

// ToListingItem строит карточку публичного списка
func ToListingItem(o Opportunity, r ImageResolver) ListingItem {
	href := DefaultHref
	if o.Link != nil && *o.Link != "" {
		href = *o.Link
	}
	cta := "Learn More"
	if href != DefaultHref {
		cta = "Apply Now"
	}
	return ListingItem{
		ID:       o.ID,
		Title:    o.Position,
		Summary:  o.Description,
		ImageURL: r.Resolve(o.Image),
		Href:     href,
		Date:     o.CreatedAt.UTC().Format(time.RFC3339),
		Category: ListingCategory,
		CTA:      cta,
	}
}

// ToListingItems проецирует весь список, сохраняя порядок
func ToListingItems(list []Opportunity, r ImageResolver) []ListingItem {
	items := make([]ListingItem, 0, len(list))
	for _, o := range list {
		items = append(items, ToListingItem(o, r))
	}
	return items
}
