package authcore

// TokenPair is the bundle returned to callers after login or refresh: the
// signed access token and the opaque refresh key that can mint its
// successor. The persisted session record is never exposed.
type TokenPair struct {
	AccessToken string `json:"accessToken"`
	RefreshKey  string `json:"refreshKey"`
}
