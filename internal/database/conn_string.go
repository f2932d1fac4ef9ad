package database

import (
	"net/url"
	"strconv"

	"github.com/rickgao/livefeed/internal/config"
)

// ConnString builds a PostgreSQL URL for the custom-data store. The instance
// ID is sent as application_name so store sessions show up per node in
// pg_stat_activity.
func ConnString(cfg config.DBConfig, instanceID string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if instanceID != "" {
		q.Set("application_name", "livefeed-"+instanceID)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
