// Package backend defines the storage backend adapter contract and the
// registry that maps tiers to adapters. Concrete adapters live in the s3 and
// minio subpackages; an in-memory adapter is provided for tests.
//
// Adapters normalize provider errors into the structured error kinds so the
// gateway can react uniformly: a missing object is KindNotFound whether the
// backend answered 404 or NoSuchKey.
package backend
