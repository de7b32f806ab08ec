package objectstore

import "strings"

// ArtifactKind names one of the derived files stored for every record.
type ArtifactKind string

const (
	ArtifactMainImage    ArtifactKind = "mainImage"
	ArtifactThumb        ArtifactKind = "thumb"
	ArtifactOptimisedPng ArtifactKind = "optimisedPng"
)

// Artifacts lists every artifact kind in deletion order.
var Artifacts = []ArtifactKind{ArtifactMainImage, ArtifactThumb, ArtifactOptimisedPng}

// ArtifactKey derives the image-bucket key of an artifact from the record id.
//
//	mainImage    -> <id>
//	thumb        -> thumbs/<id>
//	optimisedPng -> optimised/<id>.png
func ArtifactKey(kind ArtifactKind, id string) string {
	switch kind {
	case ArtifactThumb:
		return "thumbs/" + id
	case ArtifactOptimisedPng:
		return "optimised/" + id + ".png"
	default:
		return id
	}
}

// NormalizeKey strips an s3://bucket/ prefix to return a bucket-relative key.
// Non-S3 paths are returned unchanged.
func NormalizeKey(path string) string {
	if strings.HasPrefix(path, "s3://") {
		trimmed := strings.TrimPrefix(path, "s3://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
	}
	return path
}
