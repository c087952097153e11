package models

// Tier is the quota class of an identity.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
)

// Identity is the admission-control subject of a request. Key is a one-way hash of the
// subject id or network address; the raw values are never kept.
type Identity struct {
	Tier Tier
	Key  string
}

func (i Identity) Authenticated() bool {
	return i.Tier == TierAuthenticated
}
