package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/catalogfill/internal/metaextract"
	"fknsrs.biz/p/catalogfill/internal/stringutil"
	"fknsrs.biz/p/catalogfill/internal/timeutil"
)

type LevelList []logrus.Level

func (a LevelList) MarshalText() ([]byte, error) {
	if len(a) == 0 {
		return []byte("-"), nil
	}

	var s string

	for i, e := range a {
		if i != 0 {
			s += ","
		}

		s += e.String()
	}

	return []byte(s), nil
}

func (a *LevelList) UnmarshalText(d []byte) error {
	if string(d) == "" || string(d) == "-" {
		*a = LevelList{}
		return nil
	}

	var aa LevelList

	for _, e := range strings.Split(string(d), ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		l, err := logrus.ParseLevel(e)
		if err != nil {
			return fmt.Errorf("config.LevelList.UnmarshalText: could not parse value as logrus level: %w", err)
		}

		aa = append(aa, l)
	}

	*a = aa

	return nil
}

type LogQueries struct {
	Enabled    bool
	SlowerThan time.Duration
}

func (l LogQueries) String() string {
	if l.Enabled {
		if l.SlowerThan != 0 {
			return ">" + l.SlowerThan.String()
		}

		return "all"
	}

	return "none"
}

func (l LogQueries) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LogQueries) UnmarshalText(d []byte) error {
	s := string(d)

	switch s {
	case "all":
		l.Enabled = true
		l.SlowerThan = 0
		return nil
	case "", "none":
		l.Enabled = false
		l.SlowerThan = 0
		return nil
	default:
		if s[0] == '>' && len(s) > 1 {
			d, err := time.ParseDuration(s[1:])
			if err != nil {
				return fmt.Errorf("config.LogQueries.UnmarshalText: could not parse value as duration: %w", err)
			}
			l.Enabled = true
			l.SlowerThan = d
			return nil
		}

		return fmt.Errorf("config.LogQueries.UnmarshalText: unrecognised input %q; valid options are none, all, or >x where x is a duration", s)
	}
}

func (l *LogQueries) IsZero() bool {
	return l.Enabled == false && l.SlowerThan == 0
}

type StringList []string

func (a StringList) MarshalText() ([]byte, error) {
	return []byte(strings.Join(a, ",")), nil
}

func (a *StringList) UnmarshalText(d []byte) error {
	*a = StringList(stringutil.SplitList(string(d)))
	return nil
}

type Config struct {
	Config         string       `name:"config" toml:"config" yaml:"config" help:"Config file location."`
	LogLevel       logrus.Level `name:"log_level" toml:"log_level" yaml:"log_level" help:"Global log level."`
	LogDebugLevels LevelList    `name:"log_debug_levels" toml:"log_debug_levels" yaml:"log_debug_levels" help:"Which log levels to include stack data on."`
	LogQueries     LogQueries   `name:"log_queries" toml:"log_queries" yaml:"log_queries" help:"Log SQL queries."`
	LogSORM        bool         `name:"log_sorm" toml:"log_sorm" yaml:"log_sorm" help:"Log SORM queries."`

	DatabaseURL   string `name:"turso_db_url" toml:"turso_db_url" yaml:"turso_db_url" help:"Catalog database URL; libsql://, https:// or a local SQLite file."`
	DatabaseToken string `name:"turso_db_secret" toml:"turso_db_secret" yaml:"turso_db_secret" help:"Auth token for a remote catalog database."`

	CachePath   string            `name:"cache_path" toml:"cache_path" yaml:"cache_path" help:"Location for HTTP response cache; empty disables caching."`
	CacheMaxAge timeutil.Duration `name:"cache_max_age" toml:"cache_max_age" yaml:"cache_max_age" help:"How long cached HTTP responses stay fresh."`

	MetadataSource     metaextract.ContentKind `name:"metadata_source" toml:"metadata_source" yaml:"metadata_source" help:"Where metadata comes from: json (metadata service) or html (content page)."`
	MetadataServiceURL string                  `name:"metadata_service_url" toml:"metadata_service_url" yaml:"metadata_service_url" help:"Metadata service endpoint for the json source."`
	ContentURLPrefix   string                  `name:"content_url_prefix" toml:"content_url_prefix" yaml:"content_url_prefix" help:"Prefix that turns an external id into a content page URL."`
	UserAgent          string                  `name:"user_agent" toml:"user_agent" yaml:"user_agent" help:"User-Agent for the html source."`
	TitleBrand         string                  `name:"title_brand" toml:"title_brand" yaml:"title_brand" help:"Hosting-site name stripped from the end of titles."`
	PosterHosts        StringList              `name:"poster_hosts" toml:"poster_hosts" yaml:"poster_hosts" help:"Comma separated hosts a valid poster URL must point at; empty accepts any absolute http(s) URL."`

	FetchTimeout    timeutil.Duration `name:"fetch_timeout" toml:"fetch_timeout" yaml:"fetch_timeout" help:"Timeout for each metadata fetch."`
	RequestDelay    timeutil.Duration `name:"request_delay" toml:"request_delay" yaml:"request_delay" help:"Pause between consecutive metadata fetches."`
	BatchSize       int               `name:"batch_size" toml:"batch_size" yaml:"batch_size" help:"Maximum records per needs-update run."`
	ForceBatchSize  int               `name:"force_batch_size" toml:"force_batch_size" yaml:"force_batch_size" help:"Maximum records per force run."`
	VerifyBatchSize int               `name:"verify_batch_size" toml:"verify_batch_size" yaml:"verify_batch_size" help:"Maximum records inspected by verify and repair."`
	MinTitleLength  int               `name:"min_title_length" toml:"min_title_length" yaml:"min_title_length" help:"Titles shorter than this are reported by verify."`

	ApplicationAddr   string `name:"application_addr" toml:"application_addr" yaml:"application_addr" help:"Address to listen on in serve mode."`
	BackgroundWorkers int    `name:"background_workers" toml:"background_workers" yaml:"background_workers" help:"How many background workers to run in serve mode."`

	Force  bool   `name:"force" env:"-" toml:"-" yaml:"-" help:"Re-fetch and overwrite metadata for every record."`
	Single string `name:"single" env:"-" toml:"-" yaml:"-" help:"Reconcile only the record with this external id."`
	Verify bool   `name:"verify" env:"-" toml:"-" yaml:"-" help:"Report records with missing or suspect metadata without changing anything."`
	Repair bool   `name:"repair" env:"-" toml:"-" yaml:"-" help:"Report records with missing or suspect metadata and fill in what is missing."`
	Serve  bool   `name:"serve" env:"-" toml:"-" yaml:"-" help:"Run the HTTP API and background worker."`
}

func Default() Config {
	return Config{
		LogLevel:        logrus.InfoLevel,
		LogDebugLevels:  LevelList{logrus.DebugLevel, logrus.TraceLevel},
		LogQueries:      LogQueries{Enabled: false},
		CacheMaxAge:     timeutil.Duration(time.Hour * 24),
		MetadataSource:  metaextract.JSON,
		TitleBrand:      metaextract.DefaultBrand,
		FetchTimeout:    timeutil.Duration(time.Second * 10),
		RequestDelay:    timeutil.Duration(time.Second),
		BatchSize:       100,
		ForceBatchSize:  200,
		VerifyBatchSize: 1000,
		MinTitleLength:  3,

		ApplicationAddr:   ":8080",
		BackgroundWorkers: 1,
	}
}

type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

type Mode string

const (
	ModeNeedsUpdate Mode = "needs-update"
	ModeForceAll    Mode = "force-all"
	ModeSingle      Mode = "single"
	ModeVerify      Mode = "verify"
	ModeRepair      Mode = "repair"
	ModeServe       Mode = "serve"
)

func (c Config) Mode() (Mode, error) {
	var modes []Mode

	if c.Force {
		modes = append(modes, ModeForceAll)
	}
	if c.Single != "" {
		modes = append(modes, ModeSingle)
	}
	if c.Verify {
		modes = append(modes, ModeVerify)
	}
	if c.Repair {
		modes = append(modes, ModeRepair)
	}
	if c.Serve {
		modes = append(modes, ModeServe)
	}

	switch len(modes) {
	case 0:
		return ModeNeedsUpdate, nil
	case 1:
		return modes[0], nil
	default:
		return "", &ConfigurationError{Field: "mode", Message: fmt.Sprintf("only one of --force, --single, --verify, --repair or --serve may be given; got %v", modes)}
	}
}

// IsRemoteDatabase reports whether the database URL names a network
// service rather than a local file.
func IsRemoteDatabase(databaseURL string) bool {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "libsql", "http", "https", "ws", "wss":
		return true
	default:
		return false
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return &ConfigurationError{Field: "turso_db_url", Message: "database URL is required"}
	}

	if IsRemoteDatabase(c.DatabaseURL) && strings.TrimSpace(c.DatabaseToken) == "" {
		return &ConfigurationError{Field: "turso_db_secret", Message: "auth token is required for a remote database"}
	}

	for _, e := range []struct {
		name  string
		value int
	}{
		{"batch_size", c.BatchSize},
		{"force_batch_size", c.ForceBatchSize},
		{"verify_batch_size", c.VerifyBatchSize},
	} {
		if e.value <= 0 {
			return &ConfigurationError{Field: e.name, Message: fmt.Sprintf("must be positive; was %d", e.value)}
		}
	}

	if c.FetchTimeout < 0 || c.RequestDelay < 0 {
		return &ConfigurationError{Field: "fetch_timeout/request_delay", Message: "durations can not be negative"}
	}

	if _, err := c.Mode(); err != nil {
		return err
	}

	return nil
}
