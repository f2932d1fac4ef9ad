// Package api is the REST client for the vendor's custom-data and universe
// endpoints. Client satisfies both source.Fetcher and source.UniverseFetcher.
//
// Endpoints (relative to the configured base URL):
//   - GET /custom/{ticker}?since=&resolution=  custom data points
//   - GET /universes/{ticker}?at=              current selection
//
// A subscription's Source, when set, replaces the default path.
package api
