package config // package config loads application configuration from environment variables

import (
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Booking policy knobs live next to the
// infrastructure settings because handlers and services read both.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBDriver       string // "mysql" (default) or "sqlite"
	DBDSN          string // full DSN, used by sqlite and optionally by mysql
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	BookingWindowDays int          // visit date must be within [today, today+N]
	ClosedWeekday     time.Weekday // weekly closure day
	OnlineMaxQty      int          // per-item quantity cap for ONLINE bookings
	QRImageSize       int          // QR PNG edge in pixels
	TariffFile        string       // optional override of the embedded canonical tariff file

	AdminEmail    string // bootstrap admin account, created when missing
	AdminPassword string

	EventsEnabled bool   // publish ticket.issued / entry.validated / scan.alert
	AuditLogDir   string // directory of the audit consumer's rotating files
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBDriver:       strings.ToLower(envStr("DB_DRIVER", "mysql")),
		DBDSN:          os.Getenv("DB_DSN"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),

		BookingWindowDays: envInt("BOOKING_WINDOW_DAYS", 60),
		ClosedWeekday:     parseWeekday(envStr("CLOSED_WEEKDAY", "tuesday")),
		OnlineMaxQty:      envInt("ONLINE_MAX_QTY", 100),
		QRImageSize:       envInt("QR_IMAGE_SIZE", 300),
		TariffFile:        os.Getenv("TARIFF_CATALOG_FILE"),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		EventsEnabled: envBool("EVENTS_ENABLED", true),
		AuditLogDir:   envStr("AUDIT_LOG_DIR", "logs"),
	}
	// MySQL needs discrete connection parameters unless a DSN is given.
	if cfg.DBDriver == "mysql" && cfg.DBDSN == "" {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	if cfg.DBDriver == "sqlite" && cfg.DBDSN == "" {
		cfg.DBDSN = "file:zoo.db?_pragma=busy_timeout(5000)"
	}
	return cfg
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
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// parseWeekday accepts english day names ("tue", "Tuesday") or 0-6 with
// Sunday as 0.  Unknown values fall back to Tuesday.
func parseWeekday(s string) time.Weekday {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n)
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return d
		}
	}
	return time.Tuesday
}
