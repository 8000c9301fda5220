package model

// Identity is the verified caller identity produced by the auth layer. Both
// transports carry the same shape; handlers never look at raw tokens.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// IsElevated reports whether the identity holds the elevated (admin) role,
// which grants cross-conversation visibility and moderation rights.
func (i Identity) IsElevated() bool {
	return i.Role == RoleAdmin
}
