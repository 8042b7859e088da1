package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mbolis/sensing-survey/model"
)

type Config struct {
	Addr           string
	DBUrl          string
	TokenSecret    string
	TokenTTL       time.Duration
	Debug          bool
	MediaDir       string
	LogFile        string
	DefaultPrivacy model.PrivacyState
	BootstrapAdmin string
	MaxUploadBytes int64
}

// env holds the defaults of every flag, read from SURVEY_* variables.
type env struct {
	Host           string `default:"0.0.0.0"`
	Port           uint   `default:"80"`
	DBUrl          string `envconfig:"DB_URL" default:"survey.sqlite"`
	TokenSecret    string `envconfig:"TOKEN_SECRET"`
	TokenTTL       uint   `envconfig:"TOKEN_TTL" default:"120"`
	Debug          bool
	MediaDir       string `envconfig:"MEDIA_DIR" default:"media"`
	LogFile        string `envconfig:"LOG_FILE"`
	DefaultPrivacy string `envconfig:"DEFAULT_PRIVACY" default:"private"`
	BootstrapAdmin string `envconfig:"BOOTSTRAP_ADMIN"`
	MaxUploadMB    uint   `envconfig:"MAX_UPLOAD_MB" default:"32"`
}

func ParseFlags() (Config, error) {
	return Parse(os.Args[0], os.Args[1:])
}

func Parse(name string, args []string) (cfg Config, err error) {
	var e env
	if err = envconfig.Process("survey", &e); err != nil {
		return
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	host := fs.String("host", e.Host, "listen host name")
	port := fs.Uint("port", e.Port, "listen port number")
	fs.StringVar(&cfg.DBUrl, "db-url", e.DBUrl, "path to SQLite3 DB file")
	fs.StringVar(&cfg.TokenSecret, "token-secret", e.TokenSecret, "secret key for token encryption and decryption")
	ttl := fs.Uint("token-ttl", e.TokenTTL, "token TTL in seconds")
	fs.BoolVar(&cfg.Debug, "debug", e.Debug, "log at DEBUG level")
	fs.StringVar(&cfg.MediaDir, "media-dir", e.MediaDir, "directory holding uploaded media")
	fs.StringVar(&cfg.LogFile, "log-file", e.LogFile, "write logs to this file, rotated (default stderr)")
	privacy := fs.String("default-privacy", e.DefaultPrivacy, "privacy state of uploaded survey responses")
	fs.StringVar(&cfg.BootstrapAdmin, "bootstrap-admin", e.BootstrapAdmin, "user:password of an admin created at start if missing")
	maxUpload := fs.Uint("max-upload-mb", e.MaxUploadMB, "maximum size of an upload request in MB")
	if err = fs.Parse(args); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(*host, strconv.Itoa(int(*port)))
	cfg.TokenTTL = time.Duration(*ttl) * time.Second
	cfg.MaxUploadBytes = int64(*maxUpload) << 20

	if cfg.DefaultPrivacy, err = model.ParsePrivacyState(*privacy); err != nil {
		err = fmt.Errorf("parameter -default-privacy: %w", err)
		return
	}
	if cfg.BootstrapAdmin != "" {
		if _, _, ok := cfg.Bootstrap(); !ok {
			err = errors.New("parameter -bootstrap-admin must be user:password")
			return
		}
	}
	if cfg.TokenSecret == "" {
		err = errors.New("missing parameter -token-secret")
	}

	return
}

// Bootstrap splits the bootstrap admin credentials.
func (cfg Config) Bootstrap() (username, password string, ok bool) {
	username, password, ok = strings.Cut(cfg.BootstrapAdmin, ":")
	ok = ok && username != "" && password != ""
	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
