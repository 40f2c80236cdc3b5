// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides key, slug and id generation.

# Poll Keys

Keys are HMAC-SHA256 over a role and the poll id, so they can be validated
without being stored:

	adminKey := auth.GenerateAdminKey(pollID, salt)
	viewerKey := auth.GenerateKey(auth.RoleViewer, pollID, salt)
	err := auth.ValidateKey(auth.RoleViewer, pollID, viewerKey, salt)

Keys of different roles never validate for each other. They are URL-safe
base64 without padding.

# Share Slugs

	slug := auth.GenerateShareSlug(pollID, salt)

Slugs are base62, derived from the poll id and salt.

# ID Generation

	id, err := auth.GenerateID(16) // 32 hex characters
*/
package auth
