package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envBallotURL      = "BALLOT_URL"
	envProfilesFile   = "PROFILES_FILE"
	envCatalog        = "SELECTOR_CATALOG"
	envSolverKey      = "CAPSOLVER_API_KEY"
	envSolverURL      = "CAPSOLVER_URL"
	envSolverTimeout  = "SOLVER_TIMEOUT"
	envAutoSolve      = "AUTO_SOLVE_CAPTCHA"
	envHeadless       = "AGENT_HEADLESS"
	envCooldown       = "PROFILE_COOLDOWN"
	envOperatorWait   = "OPERATOR_TIMEOUT"
	envSnapshotDir    = "SNAPSHOT_DIR"
	envLogFile        = "LOG_FILE"
	envLogLevel       = "LOG_LEVEL"
	envMaxSteps       = "MAX_STEPS"
	envMaxStageVisits = "MAX_STAGE_VISITS"
	envMaxUnknown     = "MAX_UNKNOWN_PAGES"
	envDOBDay         = "DOB_DEFAULT_DAY"
	envDOBMonth       = "DOB_DEFAULT_MONTH"
	envDOBYear        = "DOB_DEFAULT_YEAR"

	defaultBallotURL = "https://ballot.wimbledon.com/"
	defaultSolverURL = "https://api.capsolver.com"
)

// Timing holds the settle windows inserted after page actions. Each window
// elapses before the next interaction or detection.
type Timing struct {
	// Navigate follows the initial page load.
	Navigate time.Duration
	// Field follows checkbox and select interactions.
	Field time.Duration
	// Form follows filling a whole form, before its submit control is used.
	Form time.Duration
	// Submit follows a submit or continue click.
	Submit time.Duration
	// Page follows a click that loads a new ballot page.
	Page time.Duration
	// Confirmation is the wait before the confirmation page is checked.
	Confirmation time.Duration
}

// DefaultTiming mirrors the pauses the ballot site needs in practice.
func DefaultTiming() Timing {
	return Timing{
		Navigate:     2 * time.Second,
		Field:        500 * time.Millisecond,
		Form:         time.Second,
		Submit:       time.Second,
		Page:         3 * time.Second,
		Confirmation: 5 * time.Second,
	}
}

// Limits bound the per-profile state machine.
type Limits struct {
	MaxSteps       int
	MaxStageVisits int
	MaxUnknown     int
}

// DOBDefaults are the placeholder date-of-birth parts submitted when a profile
// omits them.
type DOBDefaults struct {
	Day   string
	Month string
	Year  string
}

// Config is the full runtime configuration.
type Config struct {
	BallotURL       string
	ProfilesFile    string
	CatalogFile     string
	SolverKey       string
	SolverURL       string
	SolverTimeout   time.Duration
	AutoSolve       bool
	Headless        bool
	Cooldown        time.Duration
	OperatorTimeout time.Duration
	SnapshotDir     string
	LogFile         string
	LogLevel        string
	Timing          Timing
	Limits          Limits
	DOB             DOBDefaults
}

// SolverEnabled reports whether captchas should be sent to the solving service.
func (c Config) SolverEnabled() bool {
	return c.AutoSolve && c.SolverKey != "" && !strings.EqualFold(c.SolverKey, "replace")
}

// Load reads the configuration from the environment. Call godotenv.Load first
// to pick up a .env file.
func Load() (Config, error) {
	cfg := Config{
		BallotURL:    stringEnv(envBallotURL, defaultBallotURL),
		ProfilesFile: stringEnv(envProfilesFile, "profiles.csv"),
		CatalogFile:  stringEnv(envCatalog, ""),
		SolverKey:    stringEnv(envSolverKey, ""),
		SolverURL:    strings.TrimRight(stringEnv(envSolverURL, defaultSolverURL), "/"),
		AutoSolve:    parseBoolEnv(envAutoSolve, true),
		Headless:     parseBoolEnv(envHeadless, false),
		SnapshotDir:  stringEnv(envSnapshotDir, "snapshots"),
		LogFile:      stringEnv(envLogFile, "ballot.log"),
		LogLevel:     stringEnv(envLogLevel, "info"),
		Timing:       DefaultTiming(),
		DOB: DOBDefaults{
			Day:   stringEnv(envDOBDay, "20"),
			Month: stringEnv(envDOBMonth, "July"),
			Year:  stringEnv(envDOBYear, "2004"),
		},
	}

	var err error
	if cfg.SolverTimeout, err = durationEnv(envSolverTimeout, 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Cooldown, err = durationEnv(envCooldown, 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OperatorTimeout, err = durationEnv(envOperatorWait, 0); err != nil {
		return Config{}, err
	}
	if cfg.Limits.MaxSteps, err = intEnv(envMaxSteps, 25); err != nil {
		return Config{}, err
	}
	if cfg.Limits.MaxStageVisits, err = intEnv(envMaxStageVisits, 3); err != nil {
		return Config{}, err
	}
	if cfg.Limits.MaxUnknown, err = intEnv(envMaxUnknown, 3); err != nil {
		return Config{}, err
	}
	if err := cfg.loadTiming(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadTiming() error {
	fields := []struct {
		env string
		dst *time.Duration
	}{
		{"SETTLE_NAVIGATE", &c.Timing.Navigate},
		{"SETTLE_FIELD", &c.Timing.Field},
		{"SETTLE_FORM", &c.Timing.Form},
		{"SETTLE_SUBMIT", &c.Timing.Submit},
		{"SETTLE_PAGE", &c.Timing.Page},
		{"SETTLE_CONFIRMATION", &c.Timing.Confirmation},
	}
	for _, f := range fields {
		d, err := durationEnv(f.env, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Validate checks values a run cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BallotURL) == "" {
		return fmt.Errorf("%s must not be empty", envBallotURL)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("%s must be positive", envSolverTimeout)
	}
	if c.Cooldown < 0 || c.OperatorTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Limits.MaxSteps <= 0 || c.Limits.MaxStageVisits <= 0 || c.Limits.MaxUnknown < 0 {
		return fmt.Errorf("step and visit limits must be positive")
	}
	return nil
}

func stringEnv(name, def string) string {
	val := strings.Trim(strings.TrimSpace(os.Getenv(name)), "\"'")
	if val == "" {
		return def
	}
	return val
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// durationEnv accepts Go durations ("30s") or a bare number of seconds.
func durationEnv(name string, def time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
