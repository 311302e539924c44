// Package session keeps the reports of finished runs so they can be looked
// up by run ID after Run has returned, for example by a caller that only
// kept the ID of a run it started in the background.
//
// Reports are stored as immutable snapshots. Add durable backends in
// sub-packages; callers depend only on core.ReportStore.
package session
