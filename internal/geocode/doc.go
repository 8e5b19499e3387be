// Package geocode turns photo coordinates into place names.
//
// Resolver searches the cities table in boxes of 0.01, 0.1, 1 and 10 degrees
// around the point and falls back to a full scan, ranking candidates by
// squared degree distance. Importer loads the GeoNames cities15000 dump once
// and records completion in the settings cache.
package geocode
