package tariffs

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Normalizer converts raw entries into tariff records
type Normalizer struct {
	logger ectologger.Logger
}

func NewNormalizer(logger ectologger.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize maps raw entries to records for date. Entries without an entity name are
// dropped with a warning; every other malformed field degrades to absent.
func (n *Normalizer) Normalize(ctx context.Context, entries []models.RawTariffEntry, date time.Time) []models.TariffRecord {
	records := make([]models.TariffRecord, 0, len(entries))
	for i, entry := range entries {
		name := n.name(ctx, "entity_name", entry.WarehouseName)
		if name == nil {
			n.logger.WithContext(ctx).WithFields(map[string]any{
				"index": i,
			}).Warn("Skipping tariff entry without an entity name")
			continue
		}

		records = append(records, models.TariffRecord{
			Date:       date,
			EntityName: *name,
			RegionName: n.name(ctx, "region_name", entry.GeoName),
			Delivery: models.Rate{
				Base:        text(entry.BoxDeliveryBase),
				PerUnit:     text(entry.BoxDeliveryLiter),
				Coefficient: n.coefficient(ctx, *name, "delivery", entry.BoxDeliveryCoefExpr),
			},
			Storage: models.Rate{
				Base:        text(entry.BoxStorageBase),
				PerUnit:     text(entry.BoxStorageLiter),
				Coefficient: n.coefficient(ctx, *name, "storage", entry.BoxStorageCoefExpr),
			},
			Marketplace: models.Rate{
				Base:        text(entry.BoxDeliveryMarketplaceBase),
				PerUnit:     text(entry.BoxDeliveryMarketplaceLiter),
				Coefficient: n.coefficient(ctx, *name, "marketplace", entry.BoxDeliveryMarketplaceCoefExpr),
			},
		})
	}
	return records
}

// IsSentinel reports whether a trimmed source value means "no value"
func IsSentinel(v string) bool {
	return v == "" || v == "-"
}

func text(v models.RawValue) *string {
	s := strings.TrimSpace(string(v))
	if IsSentinel(s) {
		return nil
	}
	return &s
}

// name trims and bounds a name to MaxNameLength runes, truncating with a warning
func (n *Normalizer) name(ctx context.Context, field string, v models.RawValue) *string {
	s := text(v)
	if s == nil {
		return nil
	}
	if utf8.RuneCountInString(*s) > models.MaxNameLength {
		n.logger.WithContext(ctx).WithFields(map[string]any{
			"field":  field,
			"length": utf8.RuneCountInString(*s),
			"limit":  models.MaxNameLength,
		}).Warn("Truncating over-long name")
		truncated := strings.TrimSpace(string([]rune(*s)[:models.MaxNameLength]))
		s = &truncated
	}
	return s
}

func (n *Normalizer) coefficient(ctx context.Context, entity, field string, v models.RawValue) *int {
	s := text(v)
	if s == nil {
		return nil
	}
	c, ok := models.RawValue(*s).Int()
	if !ok {
		n.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_name": entity,
			"field":       field,
			"value":       *s,
		}).Warn("Ignoring non-numeric coefficient")
		return nil
	}
	return &c
}
