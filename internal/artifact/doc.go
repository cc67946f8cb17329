// Package artifact persists converted outputs keyed by job id.
//
// Every stored name carries its job id as a literal prefix
// ("{job_id}_{stem}.{ext}") and lives under a per-job directory or object
// prefix, so looking up the artifact for a job touches one location instead
// of scanning the whole store. FSStore keeps artifacts on local disk; S3Store
// targets any S3-compatible object store (AWS, R2, MinIO).
package artifact
