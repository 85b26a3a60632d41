package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"strings" // strings splits list-valued variables
)

// Config holds all runtime configuration values.  Each field
// corresponds to an environment variable.  The types reflect how the
// values are used in the application: strings for identifiers and
// secrets, ints for durations and costs, and a float for the
// marketplace fee.
type Config struct {
	Env            string   // application environment (e.g. "dev", "prod")
	Port           string   // HTTP port to listen on
	DBUser         string   // database username
	DBPass         string   // database password (optional)
	DBHost         string   // database host address
	DBPort         string   // database port number
	DBName         string   // database name
	DBMaxOpen      int      // connection pool: max open connections
	DBMaxIdle      int      // connection pool: max idle connections
	DBConnLifeMin  int      // connection pool: max connection lifetime in minutes
	JWTSecret      string   // secret used to sign JWTs
	AccessTTLMin   int      // access token time-to-live in minutes
	RefreshTTLDays int      // refresh token time-to-live in days
	BcryptCost     int      // bcrypt cost for password hashing
	MarketFeePct   float64  // marketplace fee percentage charged to sellers
	AdminUserIDs   []uint64 // explicit allow-list for privileged operations
	FrontendURL    string   // base URL the payment gateway redirects back to
}

// Load reads configuration values from environment variables and
// returns a Config.  Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
// The fee and admin allow-list are optional with sensible defaults.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		DBMaxOpen:      envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdle:      envInt("DB_MAX_IDLE_CONNS", 25),
		DBConnLifeMin:  envInt("DB_CONN_LIFETIME_MIN", 30),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
		MarketFeePct:   envFloat("MARKET_FEE_PERCENT", 5),
		AdminUserIDs:   envIDList("ADMIN_USER_IDS"),
		FrontendURL:    envStr("FRONTEND_URL", "http://localhost:3000"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and
// exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an
// integer.  If conversion fails, the application logs a fatal error
// and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("invalid int for %s: %q", k, v)
	}
	return n
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Fatalf("invalid float for %s: %q", k, v)
	}
	return f
}

// envIDList parses a comma-separated list of numeric user IDs.  Bad
// entries are fatal rather than silently dropped: a typo in the admin
// allow-list must not widen or narrow privileged access unnoticed.
func envIDList(k string) []uint64 {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			log.Fatalf("invalid user id in %s: %q", k, p)
		}
		ids = append(ids, n)
	}
	return ids
}
