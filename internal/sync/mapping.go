package sync

import (
	"github.com/cybertec-postgresql/country_sync/internal/db"
	"github.com/cybertec-postgresql/country_sync/internal/feed"
)

// NotFound is stored for optional feed attributes that are absent
const NotFound = "not found"

// applyFeed copies the feed attributes onto a local record. The flag and the
// storage identity are left alone. Only the first currency in feed order is
// kept.
func applyFeed(rec *db.Country, ext feed.Country) {
	rec.Name = ext.Name.Common
	rec.Region = ext.Region
	rec.Subregion = NotFound
	if ext.Subregion != nil {
		rec.Subregion = *ext.Subregion
	}
	rec.Population = ext.Population
	rec.Independent = ext.Independent != nil && *ext.Independent
	rec.Demonym = ext.Name.Official

	rec.CurrencyName, rec.CurrencySymbol = NotFound, NotFound
	if cur, ok := ext.Currencies.First(); ok {
		if cur.Name != nil {
			rec.CurrencyName = *cur.Name
		}
		if cur.Symbol != nil {
			rec.CurrencySymbol = *cur.Symbol
		}
	}
}
