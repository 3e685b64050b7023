package repositories

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	tariffTable      = "tariffs"
	destinationTable = "destinations"
)

var (
	tariffStruct      = database.NewStruct(new(TariffRow))
	destinationStruct = database.NewStruct(new(DestinationRow))
)

// tariffKey is the unique key of the tariffs table
var tariffKey = []string{"tariff_date", "entity_name"}

// tariffValueColumns are overwritten from the incoming row on conflict
var tariffValueColumns = []string{
	"region_name",
	"delivery_base",
	"delivery_per_unit",
	"delivery_coefficient",
	"storage_base",
	"storage_per_unit",
	"storage_coefficient",
	"marketplace_base",
	"marketplace_per_unit",
	"marketplace_coefficient",
	"updated_at",
}

type TariffRow struct {
	TariffDate             time.Time `db:"tariff_date"`
	EntityName             string    `db:"entity_name"`
	RegionName             *string   `db:"region_name"`
	DeliveryBase           *string   `db:"delivery_base"`
	DeliveryPerUnit        *string   `db:"delivery_per_unit"`
	DeliveryCoefficient    *int      `db:"delivery_coefficient"`
	StorageBase            *string   `db:"storage_base"`
	StoragePerUnit         *string   `db:"storage_per_unit"`
	StorageCoefficient     *int      `db:"storage_coefficient"`
	MarketplaceBase        *string   `db:"marketplace_base"`
	MarketplacePerUnit     *string   `db:"marketplace_per_unit"`
	MarketplaceCoefficient *int      `db:"marketplace_coefficient"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

// calendarDay drops the clock and zone so the driver sends the intended day
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func FromTariffRecord(r models.TariffRecord, now time.Time) TariffRow {
	return TariffRow{
		TariffDate:             calendarDay(r.Date),
		EntityName:             r.EntityName,
		RegionName:             r.RegionName,
		DeliveryBase:           r.Delivery.Base,
		DeliveryPerUnit:        r.Delivery.PerUnit,
		DeliveryCoefficient:    r.Delivery.Coefficient,
		StorageBase:            r.Storage.Base,
		StoragePerUnit:         r.Storage.PerUnit,
		StorageCoefficient:     r.Storage.Coefficient,
		MarketplaceBase:        r.Marketplace.Base,
		MarketplacePerUnit:     r.Marketplace.PerUnit,
		MarketplaceCoefficient: r.Marketplace.Coefficient,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func ToTariffRecord(row TariffRow) models.TariffRecord {
	return models.TariffRecord{
		Date:       calendarDay(row.TariffDate),
		EntityName: row.EntityName,
		RegionName: row.RegionName,
		Delivery: models.Rate{
			Base:        row.DeliveryBase,
			PerUnit:     row.DeliveryPerUnit,
			Coefficient: row.DeliveryCoefficient,
		},
		Storage: models.Rate{
			Base:        row.StorageBase,
			PerUnit:     row.StoragePerUnit,
			Coefficient: row.StorageCoefficient,
		},
		Marketplace: models.Rate{
			Base:        row.MarketplaceBase,
			PerUnit:     row.MarketplacePerUnit,
			Coefficient: row.MarketplaceCoefficient,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

type DestinationRow struct {
	ID        string    `db:"id"`
	Label     *string   `db:"label"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

func ToDestination(row DestinationRow) models.Destination {
	return models.Destination{
		ID:        row.ID,
		Label:     row.Label,
		Enabled:   row.Enabled,
		CreatedAt: row.CreatedAt,
	}
}
