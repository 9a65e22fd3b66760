package identity

import "time"

// Principal is an authenticated identity issued by the primary federated
// identity provider. Immutable once issued for a session; replaced wholesale
// on re-authentication.
type Principal struct {
	ID          string    `bson:"_id" json:"id"`
	DisplayName string    `bson:"displayName" json:"displayName"`
	Email       string    `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL   string    `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	Provider    string    `bson:"provider" json:"provider"`
	IssuedAt    time.Time `bson:"issuedAt" json:"issuedAt"`
}

// principalFromClaims maps OIDC claims to a Principal. Returns nil when the
// claims carry no subject.
func principalFromClaims(claims map[string]interface{}, provider string) *Principal {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)
	picture, _ := claims["picture"].(string)
	if name == "" {
		name = email
	}
	return &Principal{
		ID:          sub,
		DisplayName: name,
		Email:       email,
		AvatarURL:   picture,
		Provider:    provider,
		IssuedAt:    time.Now().UTC(),
	}
}
