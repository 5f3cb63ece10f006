package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config
// keys, e.g. MAILCMD_MAIL_HOST for mail.host.
const EnvPrefix = "MAILCMD"

// MailConfig holds the mailbox connection settings.
type MailConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS. When false the connection is upgraded
	// with STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	Username string `mapstructure:"username" yaml:"username"`

	// Password is either the literal password or a "keyring:<key>"
	// reference resolved through the system keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// Auth is the authentication mechanism: "login" or "plain".
	Auth string `mapstructure:"auth" yaml:"auth"`

	// TrustedSender is the only address whose messages are dispatched.
	TrustedSender string `mapstructure:"trusted_sender" yaml:"trusted_sender"`

	// Folder overrides the personal namespace's default folder for
	// one-shot runs.
	Folder string `mapstructure:"folder" yaml:"folder"`

	IdleRefresh    time.Duration `mapstructure:"idle_refresh" yaml:"idle_refresh"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Addr returns the host:port dial address.
func (c MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ActionsConfig maps each command kind to the script that handles it.
type ActionsConfig struct {
	Shell string `mapstructure:"shell" yaml:"shell"`
	Dir   string `mapstructure:"dir" yaml:"dir"`

	Scene       string `mapstructure:"scene" yaml:"scene"`
	SceneReport string `mapstructure:"scene_report" yaml:"scene_report"`
	Solar       string `mapstructure:"solar" yaml:"solar"`
	Alarm       string `mapstructure:"alarm" yaml:"alarm"`
	Water       string `mapstructure:"water" yaml:"water"`
	Free        string `mapstructure:"free" yaml:"free"`

	// Origin is passed to the scene handler after the scene name.
	Origin string `mapstructure:"origin" yaml:"origin"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ScriptPath resolves a script name against Dir. Absolute names are
// returned unchanged.
func (c ActionsConfig) ScriptPath(name string) string {
	if name == "" || filepath.IsAbs(name) || c.Dir == "" {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Format   string `mapstructure:"format" yaml:"format"`
	Protocol bool   `mapstructure:"protocol" yaml:"protocol"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail    MailConfig    `mapstructure:"mail" yaml:"mail"`
	Actions ActionsConfig `mapstructure:"actions" yaml:"actions"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// Validate reports missing settings required to talk to the mailbox.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Mail.Host == "" {
		errs = append(errs, errors.New("mail.host is required"))
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		errs = append(errs, fmt.Errorf("mail.port %d out of range", c.Mail.Port))
	}
	if c.Mail.Username == "" {
		errs = append(errs, errors.New("mail.username is required"))
	}
	if c.Mail.TrustedSender == "" {
		errs = append(errs, errors.New("mail.trusted_sender is required"))
	}
	switch strings.ToLower(c.Mail.Auth) {
	case "login", "plain":
	default:
		errs = append(errs, fmt.Errorf("mail.auth %q is not one of login, plain", c.Mail.Auth))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console, json", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailcmd/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailcmd", "config.yaml")
}

// DefaultAppConfig returns a configuration with every default applied.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Mail: MailConfig{
			Port:           993,
			TLS:            true,
			Auth:           "login",
			IdleRefresh:    25 * time.Minute,
			ReconnectDelay: 30 * time.Second,
			Timeout:        30 * time.Second,
		},
		Actions: ActionsConfig{
			Shell:       "/bin/sh",
			Dir:         "/root/bin",
			Scene:       "scene.sh",
			SceneReport: "sceneReport.sh",
			Solar:       "solar.sh",
			Alarm:       "alarm.sh",
			Water:       "water.sh",
			Free:        "free.sh",
			Origin:      "email",
			Timeout:     5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// setDefaults registers every key with viper so that environment
// overrides are honoured by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", d.Mail.Port)
	v.SetDefault("mail.tls", d.Mail.TLS)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.auth", d.Mail.Auth)
	v.SetDefault("mail.trusted_sender", "")
	v.SetDefault("mail.folder", "")
	v.SetDefault("mail.idle_refresh", d.Mail.IdleRefresh)
	v.SetDefault("mail.reconnect_delay", d.Mail.ReconnectDelay)
	v.SetDefault("mail.timeout", d.Mail.Timeout)

	v.SetDefault("actions.shell", d.Actions.Shell)
	v.SetDefault("actions.dir", d.Actions.Dir)
	v.SetDefault("actions.scene", d.Actions.Scene)
	v.SetDefault("actions.scene_report", d.Actions.SceneReport)
	v.SetDefault("actions.solar", d.Actions.Solar)
	v.SetDefault("actions.alarm", d.Actions.Alarm)
	v.SetDefault("actions.water", d.Actions.Water)
	v.SetDefault("actions.free", d.Actions.Free)
	v.SetDefault("actions.origin", d.Actions.Origin)
	v.SetDefault("actions.timeout", d.Actions.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.protocol", d.Log.Protocol)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying MAILCMD_* environment overrides and, when flags is non-nil,
// the --log-level flag. If the file does not exist, defaults are used.
func LoadConfig(path string, flags *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log.level", f); err != nil {
				return nil, fmt.Errorf("binding --log-level: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Mail.Auth = strings.ToLower(cfg.Mail.Auth)

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mail", map[string]any{
		"host":            cfg.Mail.Host,
		"port":            cfg.Mail.Port,
		"tls":             cfg.Mail.TLS,
		"username":        cfg.Mail.Username,
		"password":        cfg.Mail.Password,
		"auth":            cfg.Mail.Auth,
		"trusted_sender":  cfg.Mail.TrustedSender,
		"folder":          cfg.Mail.Folder,
		"idle_refresh":    cfg.Mail.IdleRefresh.String(),
		"reconnect_delay": cfg.Mail.ReconnectDelay.String(),
		"timeout":         cfg.Mail.Timeout.String(),
	})
	v.Set("actions", map[string]any{
		"shell":        cfg.Actions.Shell,
		"dir":          cfg.Actions.Dir,
		"scene":        cfg.Actions.Scene,
		"scene_report": cfg.Actions.SceneReport,
		"solar":        cfg.Actions.Solar,
		"alarm":        cfg.Actions.Alarm,
		"water":        cfg.Actions.Water,
		"free":         cfg.Actions.Free,
		"origin":       cfg.Actions.Origin,
		"timeout":      cfg.Actions.Timeout.String(),
	})
	v.Set("log", map[string]any{
		"level":    cfg.Log.Level,
		"format":   cfg.Log.Format,
		"protocol": cfg.Log.Protocol,
	})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
