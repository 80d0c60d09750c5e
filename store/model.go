package store

// Credential identifies a principal. The password is stored only in hashed
// (argon2id PHC) form. Projects lists associated project IDs; the auth core
// never mutates it.
type Credential struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"passwordHash"`
	Projects     []string `json:"projects,omitempty"`
}

// Session is one issued refresh cycle. Key is the opaque refresh secret,
// JWT the access token minted alongside it (kept so rotation can recover
// claims without a credential read). Timestamps are unix seconds;
// RevokedAt zero means the session has not been revoked.
type Session struct {
	Key       string `json:"key"`
	UserID    string `json:"userId"`
	JWT       string `json:"jwt"`
	CreatedAt int64  `json:"createdAt"`
	CreatedIP string `json:"createdIp,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
	RevokedAt int64  `json:"revokedAt,omitempty"`
	RevokedIP string `json:"revokedIp,omitempty"`
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != 0
}
