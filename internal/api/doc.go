// Package api serves the conversion HTTP surface: uploads are screened and
// queued by POST /convert, progress is read from GET /status/{job_id}, and
// finished artifacts are downloaded from GET /result/{job_id}.
//
// Routing and request plumbing use chi with its RequestID, RealIP, Recoverer
// and Throttle middleware. Uploads are rate limited per client, keyed by the
// first X-Forwarded-For address.
//
// Handlers never block on a conversion. POST /convert answers 202 as soon as
// the job is on the broker; callers poll /status until it reports completed
// or failed.
package api
