package refreshtokens

import "time"

// State is the derived lifecycle state of a record. Only Revoked is stored;
// Expired is computed from ExpiresAt at read time.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Record is one issued refresh token. Records are never deleted; the only
// mutation is the one-way Revoked flip.
type Record struct {
	ID        string    `bson:"_id" json:"id"`
	Token     string    `bson:"token" json:"token"`
	Username  string    `bson:"username" json:"username"`
	IssuedAt  time.Time `bson:"issuedAt" json:"issuedAt"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	Revoked   bool      `bson:"revoked" json:"revoked"`
	RevokedAt time.Time `bson:"revokedAt,omitempty" json:"revokedAt,omitempty"`
}

// State reports the record state at now. A revoked record stays revoked even
// after it would have expired.
func (r *Record) State(now time.Time) State {
	switch {
	case r.Revoked:
		return StateRevoked
	case !now.Before(r.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}
