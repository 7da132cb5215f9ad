package auth

// CheckPermission allows admins and moderators everywhere and users only on circles they own.
func CheckPermission(id Identity, circleID int64) error {
	if id.Role.Privileged() {
		return nil
	}
	if id.Role == RoleUser && id.OwnsCircle(circleID) {
		return nil
	}
	return ErrNotAuthorized
}

// CheckModerator rejects the user tier.
func CheckModerator(id Identity) error {
	if id.Role.Privileged() {
		return nil
	}
	return ErrNotAuthorized
}

// CheckArtist allows users that own at least one circle.
func CheckArtist(id Identity) error {
	if id.Role.Privileged() {
		return nil
	}
	if id.Role == RoleUser && len(id.Circles) > 0 {
		return nil
	}
	return ErrNotAuthorized
}

// CheckAdmin is used for role changes.
func CheckAdmin(id Identity) error {
	if id.Role == RoleAdmin {
		return nil
	}
	return ErrNotAuthorized
}
