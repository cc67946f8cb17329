// Package settings resolves flat client conversion options into a typed,
// category-specific Bundle.
//
// Bundle is a closed union: Image, Audio, Video, and Document are its only
// implementations, and each carries only the fields that make sense for its
// category. Resolve picks the variant from the target format alone, applies
// that variant's defaults, and validates the result before any work is queued.
package settings
