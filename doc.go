// Package opsmind is a realtime operational context engine. It pulls
// live activity from issue trackers through supervised polling
// connectors, merges it with static incident and export datasets, and
// serves keyword-scored context queries over the combined store.
//
// The main entry point is cmd/opsmind. Library consumers typically
// build an internal/pipeline.DataManager directly.
package opsmind
