package domain

import (
	"context"
	"log/slog"
)

// EnrichWithGeocoding labels each unit with the place name found at its
// centroid. If geocoder is nil the units are returned unchanged. Lookup
// failures are logged and recorded in GeoSource; they never fail the run.
func EnrichWithGeocoding(ctx context.Context, units []MappedUnit, geocoder Geocoder, logger *slog.Logger) []MappedUnit {
	if geocoder == nil {
		return units
	}

	for i := range units {
		u := &units[i]
		// Only lon/lat centroids can be sent to the provider; projected
		// coordinates are left as they are.
		if u.Centroid == nil || !LooksGeographic(u.Centroid) {
			u.GeoSource = "original"
			continue
		}

		lon, lat := u.Centroid[0], u.Centroid[1]
		result, err := geocoder.ReverseGeocode(ctx, lat, lon)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"unit", u.Code,
				"lat", lat,
				"lon", lon,
				"error", err,
			)
			u.GeoSource = "failed"
			if ctx.Err() != nil {
				return units
			}
			continue
		}
		if result.PlaceName == "" && result.FormattedAddress == "" {
			u.GeoSource = "original"
			continue
		}

		u.PlaceName = result.PlaceName
		if u.PlaceName == "" {
			u.PlaceName = result.FormattedAddress
		}
		u.GeoSource = "reverse"
	}
	return units
}
