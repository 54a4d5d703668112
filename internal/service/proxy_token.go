package service

import "time"

// Subscription tiers as written in account files.
const (
	TierUltra = "ULTRA"
	TierPro   = "PRO"
	TierFree  = "FREE"
)

// expiryMarginSeconds keeps returned tokens usable for at least ~5 minutes
// downstream.
const expiryMarginSeconds = 300

// ProxyToken is one account's credentials plus scheduling metadata.
// It is a value type: the manager mutates accounts by replacing the
// registry entry, never in place.
type ProxyToken struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	// Timestamp is the absolute epoch second at which AccessToken expires.
	Timestamp        int64
	Email            string
	AccountPath      string
	ProjectID        string // empty until resolved
	SubscriptionTier string // ULTRA | PRO | FREE | empty
}

// IsExpired reports whether the access token is inside the safety margin.
func (t *ProxyToken) IsExpired() bool {
	return time.Now().Unix() >= t.Timestamp-expiryMarginSeconds
}

// TierPriority orders accounts for selection; lower wins.
func (t *ProxyToken) TierPriority() int {
	switch t.SubscriptionTier {
	case TierUltra:
		return 0
	case TierPro:
		return 1
	case TierFree:
		return 2
	default:
		return 3
	}
}

// SelectedToken is what GetToken hands to the proxy front-end.
type SelectedToken struct {
	AccessToken string `json:"access_token"`
	ProjectID   string `json:"project_id"`
	Email       string `json:"email"`
	AccountID   string `json:"account_id"`
}
