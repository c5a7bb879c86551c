package auth

import "context"

// SetClaimsForTest injects claims into the context for testing purposes.
// kinds restricts the allowed run kinds; none means unrestricted.
func SetClaimsForTest(ctx context.Context, userID string, kinds ...string) context.Context {
	return context.WithValue(ctx, claimsKey, &Claims{UserID: userID, Kinds: kinds})
}
