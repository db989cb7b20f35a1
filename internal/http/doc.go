// Package http exposes the club scheduler over JSON/HTTP.
//
// Every route except GET /healthz requires an HS256 bearer token whose
// subject is the calling user id.
//   - POST /series, GET|PATCH|DELETE /series/{seriesID}: series management.
//     Dates in the schedule are local calendar dates of the series timezone.
//   - POST /series/{seriesID}/activate: activates a series and materialises
//     its first window of instances.
//   - GET /series/{seriesID}/deactivation: the series-end job and its status.
//   - GET /series/{seriesID}/instances/{date}: the instance on a local date.
//   - GET /clubs/{clubID}/instances?from&to&limit&offset: instances of a club
//     ordered by date.
//   - GET|DELETE /instances/{instanceID}, POST /instances/{instanceID}/cancel,
//     GET /instances/{instanceID}/schedule: single instance operations.
//   - POST|DELETE /instances/{instanceID}/timeslots/{timeslotID}/participants:
//     join or leave a timeslot as the authenticated user.
//
// Validation failures return 422 with a field to reason map under "errors".
package http
