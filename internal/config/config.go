package config // package config loads application configuration from environment variables

import (
    "log"      // log is used to report configuration errors and halt execution
    "os"       // os provides access to environment variables
    "strconv"  // strconv converts strings to other types
    "time"     // time expresses the protocol windows as durations
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Required values (database, JWT secret) abort
// startup when missing; the activation-protocol knobs fall back to the
// documented defaults so a bare environment still runs.
type Config struct {
    Env            string // application environment (e.g. "dev", "prod")
    Port           string // HTTP port to listen on
    DBUser         string // database username
    DBPass         string // database password (optional)
    DBHost         string // database host address
    DBPort         string // database port number
    DBName         string // database name
    JWTSecret      string // secret used to sign admin JWTs
    AccessTTLMin   int    // admin access token time‑to‑live in minutes
    RefreshTTLDays int    // admin refresh token time‑to‑live in days
    BcryptCost     int    // bcrypt cost for password hashing

    PlatformKeyPath string // path to the platform Ed25519 private key (PEM)
    PlatformPubPath string // path to the platform Ed25519 public key (PEM)

    TOTPStep     int           // TOTP step size in seconds
    TOTPDrift    int           // accepted TOTP slots on each side of "now"
    ClockSkew    time.Duration // accepted |now - iat| on activation requests
    ReplayWindow time.Duration // retention window for nonce / TOTP replay rows
    MinNonceLen  int           // minimum accepted nonce length

    DefaultLicenseTTL  time.Duration // license lifetime when the capsule has no valid_to
    FallbackLicenseTTL time.Duration // license lifetime when the capsule window already ended
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:            must("APP_ENV"),             // environment (dev/test/prod)
        Port:           must("APP_PORT"),            // port to bind the HTTP server
        DBUser:         must("DB_USER"),             // database user
        DBPass:         os.Getenv("DB_PASS"),        // database password (empty allowed)
        DBHost:         must("DB_HOST"),             // database host
        DBPort:         must("DB_PORT"),             // database port
        DBName:         must("DB_NAME"),             // database name
        JWTSecret:      must("JWT_SECRET"),          // secret used for signing admin JWTs
        AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),   // TTL for access tokens in minutes
        RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"), // TTL for refresh tokens in days
        BcryptCost:     mustInt("BCRYPT_COST"),      // bcrypt cost factor

        PlatformKeyPath: envStr("PLATFORM_KEY_PATH", "keys/platform.pem"),
        PlatformPubPath: envStr("PLATFORM_PUB_PATH", "keys/platform.pub.pem"),

        TOTPStep:     envInt("TOTP_STEP", 30),                    // seconds per TOTP slot
        TOTPDrift:    envInt("TOTP_DRIFT", 1),                    // +/- slots accepted
        ClockSkew:    envDur("CLOCK_SKEW", 5*time.Minute),        // request freshness bound
        ReplayWindow: envDur("REPLAY_WINDOW", 10*time.Minute),    // replay row retention
        MinNonceLen:  envInt("MIN_NONCE_LEN", 8),                 // shortest accepted nonce

        DefaultLicenseTTL:  envDur("LICENSE_DEFAULT_TTL", 365*24*time.Hour),
        FallbackLicenseTTL: envDur("LICENSE_FALLBACK_TTL", time.Hour),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
