package models

import (
	"encoding/json"
	"strconv"
	"time"
)

const (
	// MaxNameLength bounds entity and region names
	MaxNameLength = 255

	// DateLayout is the calendar-day format used for tariff dates
	DateLayout = "2006-01-02"
)

// RawValue is a source value decoded from either a JSON string or a JSON number.
// null decodes to the empty string.
type RawValue string

func (v *RawValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = RawValue(n.String())
	return nil
}

// Int returns the value as an integer if it is one
func (v RawValue) Int() (int, bool) {
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// RawTariffEntry is one element of the remote entries array. Every value is kept as the
// source string; "-" and "" mean no value.
type RawTariffEntry struct {
	WarehouseName                  RawValue `json:"warehouseName"`
	GeoName                        RawValue `json:"geoName"`
	BoxDeliveryBase                RawValue `json:"boxDeliveryBase"`
	BoxDeliveryLiter               RawValue `json:"boxDeliveryLiter"`
	BoxDeliveryCoefExpr            RawValue `json:"boxDeliveryCoefExpr"`
	BoxStorageBase                 RawValue `json:"boxStorageBase"`
	BoxStorageLiter                RawValue `json:"boxStorageLiter"`
	BoxStorageCoefExpr             RawValue `json:"boxStorageCoefExpr"`
	BoxDeliveryMarketplaceBase     RawValue `json:"boxDeliveryMarketplaceBase"`
	BoxDeliveryMarketplaceLiter    RawValue `json:"boxDeliveryMarketplaceLiter"`
	BoxDeliveryMarketplaceCoefExpr RawValue `json:"boxDeliveryMarketplaceCoefExpr"`
}

// Rate is a (base, per-unit, coefficient) triple. Nil means absent.
type Rate struct {
	Base        *string `json:"base,omitempty"`
	PerUnit     *string `json:"per_unit,omitempty"`
	Coefficient *int    `json:"coefficient,omitempty"`
}

// TariffRecord is one entity's tariff for one business date, unique on (Date, EntityName)
type TariffRecord struct {
	Date        time.Time `json:"date"`
	EntityName  string    `json:"entity_name"`
	RegionName  *string   `json:"region_name,omitempty"`
	Delivery    Rate      `json:"delivery"`
	Storage     Rate      `json:"storage"`
	Marketplace Rate      `json:"marketplace_delivery"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// ExportHeader is the header row written above the snapshot rows
var ExportHeader = []string{
	"date",
	"warehouse",
	"region",
	"delivery_base",
	"delivery_per_liter",
	"delivery_coef",
	"storage_base",
	"storage_per_liter",
	"storage_coef",
	"marketplace_base",
	"marketplace_per_liter",
	"marketplace_coef",
}

// ExportRow renders a record in ExportHeader column order. Absent values are empty cells.
func (r TariffRecord) ExportRow() []any {
	return []any{
		r.Date.Format(DateLayout),
		r.EntityName,
		cell(r.RegionName),
		cell(r.Delivery.Base),
		cell(r.Delivery.PerUnit),
		intCell(r.Delivery.Coefficient),
		cell(r.Storage.Base),
		cell(r.Storage.PerUnit),
		intCell(r.Storage.Coefficient),
		cell(r.Marketplace.Base),
		cell(r.Marketplace.PerUnit),
		intCell(r.Marketplace.Coefficient),
	}
}

func cell(v *string) any {
	if v == nil {
		return ""
	}
	return *v
}

func intCell(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
