package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword returns the bcrypt hash of a password.  The cost comes
// from BCRYPT_COST config; out-of-range values are normalized so a
// misconfigured cost can never produce an unverifiable hash.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), normalizeCost(cost))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches the stored bcrypt hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// normalizeCost clamps a configured bcrypt cost into the library's
// valid range, treating zero or negative as "use the default".
func normalizeCost(cost int) int {
	switch {
	case cost <= 0:
		return bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		return bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		return bcrypt.MaxCost
	}
	return cost
}
