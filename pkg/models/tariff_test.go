package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestRawValue_AcceptsStringsNumbersAndNull(t *testing.T) {
	var entry models.RawTariffEntry
	require.NoError(t, json.Unmarshal([]byte(`{
		"warehouseName": "Коледино",
		"geoName": null,
		"boxDeliveryBase": "46,2",
		"boxDeliveryCoefExpr": 120,
		"boxStorageCoefExpr": "-"
	}`), &entry))

	assert.Equal(t, models.RawValue("Коледино"), entry.WarehouseName)
	assert.Equal(t, models.RawValue(""), entry.GeoName)
	assert.Equal(t, models.RawValue("46,2"), entry.BoxDeliveryBase)

	n, ok := entry.BoxDeliveryCoefExpr.Int()
	assert.True(t, ok)
	assert.Equal(t, 120, n)

	_, ok = entry.BoxStorageCoefExpr.Int()
	assert.False(t, ok)
}

func TestExportRow_MatchesHeaderOrder(t *testing.T) {
	region := "Центральный"
	base := "46,2"
	coef := 120
	record := models.TariffRecord{
		Date:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EntityName: "Коледино",
		RegionName: &region,
		Delivery:   models.Rate{Base: &base, Coefficient: &coef},
	}

	row := record.ExportRow()
	require.Len(t, row, len(models.ExportHeader))
	assert.Equal(t, []any{"2024-05-01", "Коледино", "Центральный", "46,2", "", 120, "", "", "", "", "", ""}, row)
}
